package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/util"
)

// KnowledgeSearchName is the name of the knowledge search tool.
const KnowledgeSearchName = "knowledge_search"

const (
	defaultTopK       = 3
	defaultCourseTopK = 5
	maxTopK           = 5
	snippetRunes      = 180
)

var courseCodePattern = regexp.MustCompile(`(?i)\b(comp\d{4})`)

type knowledgeArgs struct {
	Question string `json:"question" description:"User question about campus, courses, policies, etc."`
	TopK     int    `json:"topK,omitempty" description:"Number of entries to return (default 3)" minimum:"1" maximum:"5"`
	Category string `json:"category,omitempty" description:"Optional document category filter"`
	Semester string `json:"semester,omitempty" description:"Optional semester filter, e.g. 2025-S1"`
}

// KnowledgeSource is one cited document in a knowledge search result.
type KnowledgeSource struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Rank    int    `json:"rank"`
}

// KnowledgeResult is the JSON payload returned by the knowledge search tool.
type KnowledgeResult struct {
	Summary string            `json:"summary"`
	Sources []KnowledgeSource `json:"sources,omitempty"`
}

type knowledgeTool struct {
	retriever core.Retriever
	schema    map[string]any
}

// KnowledgeSearch returns a tool that searches the knowledge base through r.
// Course codes such as COMP7103 found in the question are added to the
// filter under the "course" key.
func KnowledgeSearch(r core.Retriever) Tool {
	return &knowledgeTool{retriever: r, schema: util.CreateSchema(knowledgeArgs{})}
}

func (t *knowledgeTool) Name() string { return KnowledgeSearchName }

func (t *knowledgeTool) Description() string {
	return "Search the campus knowledge base and summarise the findings. Prefer this tool for course and campus questions and cite the returned sources."
}

func (t *knowledgeTool) Parameters() map[string]any { return t.schema }

func (t *knowledgeTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := util.ValidateParameters(args, t.schema); err != nil {
		return "", &ToolError{Tool: KnowledgeSearchName, Message: err.Error(), Code: CodeValidation, Cause: err}
	}

	question, _ := args["question"].(string)
	question = strings.TrimSpace(question)
	if question == "" {
		return encodeKnowledge(KnowledgeResult{Summary: "The question is empty, nothing to search for."})
	}

	filter := core.Filter{}
	for _, key := range []string{"category", "semester"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			filter[key] = strings.TrimSpace(v)
		}
	}
	course := ""
	if m := courseCodePattern.FindStringSubmatch(question); m != nil {
		course = strings.ToUpper(m[1])
		filter["course"] = course
	}

	limit := defaultTopK
	if course != "" {
		limit = defaultCourseTopK
	}
	if k, ok := args["topK"].(float64); ok && k > 0 {
		limit = min(int(k), maxTopK)
	}

	snippets, err := t.retriever.Search(ctx, question, filter, limit)
	if err != nil {
		return "", &ToolError{Tool: KnowledgeSearchName, Message: fmt.Sprintf("search failed: %v", err), Code: CodeExecution, Cause: err}
	}

	if len(snippets) == 0 {
		if course != "" {
			return encodeKnowledge(KnowledgeResult{Summary: "No material found for course " + course + ". Please check the course code."})
		}
		return encodeKnowledge(KnowledgeResult{Summary: "No documents in the knowledge base matched the question. Try adding more context."})
	}

	res := KnowledgeResult{Sources: make([]KnowledgeSource, 0, len(snippets))}
	var summary strings.Builder
	for i, s := range snippets {
		src := KnowledgeSource{
			Title:   snippetTitle(s),
			Snippet: condense(s.Text, snippetRunes),
			Source:  s.SourceID,
			Topic:   s.Metadata["topic"],
			Rank:    i + 1,
		}
		res.Sources = append(res.Sources, src)

		if i > 0 {
			summary.WriteString("\n\n")
		}
		summary.WriteString(strconv.Itoa(i+1) + ". " + src.Title)
		if src.Snippet != "" {
			summary.WriteString("\n    - " + src.Snippet)
		}
	}
	res.Summary = summary.String()

	return encodeKnowledge(res)
}

func snippetTitle(s core.Snippet) string {
	switch {
	case s.Title != "":
		return s.Title
	case s.Metadata["title"] != "":
		return s.Metadata["title"]
	case s.SourceID != "":
		return s.SourceID
	default:
		return "Campus document"
	}
}

// condense collapses whitespace and cuts text to at most n runes plus an ellipsis.
func condense(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}

func encodeKnowledge(res KnowledgeResult) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
