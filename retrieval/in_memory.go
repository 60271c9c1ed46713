package retrieval

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/campusagent/core"
)

// DefaultTopK is used when a search does not ask for a positive count.
const DefaultTopK = 3

// Document is one knowledge base entry.
type Document struct {
	ID       string            `yaml:"id" json:"id"`
	Title    string            `yaml:"title" json:"title"`
	Text     string            `yaml:"text" json:"text"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// InMemoryStore is a naive process-local Retriever.
//
// Search tokenizes the query and scores each document by the share of query
// terms found in it, counting title hits twice. Filter entries must match the
// document metadata exactly (case-insensitive). Protected by RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	order []string
}

// NewInMemoryStore creates a store holding docs.
func NewInMemoryStore(docs ...Document) *InMemoryStore {
	s := &InMemoryStore{docs: make(map[string]Document)}
	s.Add(docs...)
	return s
}

// Add stores documents, replacing entries with the same id. Documents without
// an id receive a sequential one.
func (s *InMemoryStore) Add(docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc_%d", len(s.order))
		}
		if _, exists := s.docs[d.ID]; !exists {
			s.order = append(s.order, d.ID)
		}
		s.docs[d.ID] = d
	}
}

// Delete removes a document by id.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s not found", id)
	}
	delete(s.docs, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored documents.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search implements core.Retriever.
func (s *InMemoryStore) Search(ctx context.Context, query string, filter core.Filter, topK int) ([]core.Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	terms := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		doc   Document
		score float64
		pos   int
	}
	var hits []hit
	for pos, id := range s.order {
		doc := s.docs[id]
		if !matches(doc.Metadata, filter) {
			continue
		}
		score := 1.0
		if len(terms) > 0 {
			score = relevance(doc, terms)
			if score == 0 {
				continue
			}
		}
		hits = append(hits, hit{doc: doc, score: score, pos: pos})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]core.Snippet, len(hits))
	for i, h := range hits {
		md := make(map[string]string, len(h.doc.Metadata))
		for k, v := range h.doc.Metadata {
			md[k] = v
		}
		out[i] = core.Snippet{
			Text:     h.doc.Text,
			SourceID: h.doc.ID,
			Title:    h.doc.Title,
			Score:    h.score,
			Metadata: md,
		}
	}
	return out, nil
}

func matches(md map[string]string, filter core.Filter) bool {
	for k, want := range filter {
		if want == "" {
			continue
		}
		if !strings.EqualFold(md[k], want) {
			return false
		}
	}
	return true
}

func relevance(doc Document, terms []string) float64 {
	title := termSet(doc.Title)
	body := termSet(doc.Text)
	var score float64
	for _, t := range terms {
		if title[t] {
			score += 2
		}
		if body[t] {
			score++
		}
	}
	return score / float64(len(terms))
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(text) {
		set[t] = true
	}
	return set
}

// tokenize lower-cases text and splits it into letter/digit runs, dropping
// one-letter tokens and common stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "is": true, "are": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"what": true, "when": true, "where": true, "how": true, "does": true, "do": true,
	"can": true, "my": true, "me": true, "it": true, "be": true, "with": true,
}

// LoadDocuments reads a YAML list of documents from path.
func LoadDocuments(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return ParseDocuments(data)
}

// ParseDocuments decodes a YAML list of documents.
func ParseDocuments(data []byte) ([]Document, error) {
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse knowledge documents: %w", err)
	}
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("document %d (%q) has no text", i, d.Title)
		}
	}
	return docs, nil
}
