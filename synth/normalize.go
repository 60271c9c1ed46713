package synth

import (
	"regexp"
	"strings"
)

// Transform is one step of a normalization pipeline. Transforms must be pure.
type Transform func(string) string

// DefaultHeadings are the section labels that always start a new paragraph.
var DefaultHeadings = []string{"Answer:", "Key points:", "Details:", "Next steps:", "Sources:"}

var (
	reBold         = regexp.MustCompile(`\*{2,}`)
	reHeadingQuote = regexp.MustCompile(`(?m)^[ \t]*(?:#{1,6}[ \t]+|>[ \t]*)+`)
	reDashes       = regexp.MustCompile("[–—]")
	reNumberSpace  = regexp.MustCompile(`(?m)^([ \t]*\d+\.)([^\s\d])`)
	reBullet       = regexp.MustCompile(`(?m)^[ \t]*[-*\x{2022}][ \t]+`)
	reInlineDash   = regexp.MustCompile(`([^\n])(-[ \t]+\S)`)
	reInlineNumber = regexp.MustCompile(`([^\n\d])(\d+\.[ \t]+\S)`)
	reURL          = regexp.MustCompile(`https?://[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+`)
	reTabs         = regexp.MustCompile(`[\t\f\v]+`)
	reSpaces       = regexp.MustCompile(` {2,}`)
	reSpaceNewline = regexp.MustCompile(` *\n *`)
	reNewlines     = regexp.MustCompile(`\n{3,}`)
)

// NormalizeNewlines turns CRLF and lone CR into LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// StripMarkdown removes bold markers, backticks, heading and blockquote
// prefixes and turns en and em dashes into hyphens.
func StripMarkdown(s string) string {
	s = reBold.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "`", "")
	s = reHeadingQuote.ReplaceAllString(s, "")
	return reDashes.ReplaceAllString(s, "-")
}

// HeadingBreaks returns a transform that starts a new paragraph before each
// of the given headings when it appears mid-line.
func HeadingBreaks(headings []string) Transform {
	patterns := make([]*regexp.Regexp, 0, len(headings))
	for _, h := range headings {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`([^\n])[ \t]*(`+regexp.QuoteMeta(h)+`)`))
	}
	return func(s string) string {
		for _, re := range patterns {
			s = re.ReplaceAllString(s, "$1\n\n$2")
		}
		return s
	}
}

// NormalizeLists rewrites bullet markers to "- ", adds the missing space in
// "1.item" and moves inline items onto their own line.
func NormalizeLists(s string) string {
	s = reNumberSpace.ReplaceAllString(s, "$1 $2")
	s = reBullet.ReplaceAllString(s, "- ")
	s = reInlineDash.ReplaceAllString(s, "$1\n$2")
	return reInlineNumber.ReplaceAllString(s, "$1\n$2")
}

// IsolateURLs puts every URL on a line of its own.
func IsolateURLs(s string) string {
	locs := reURL.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*len(locs))
	prev := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(s[prev:start])
		if start > 0 && s[start-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString(s[start:end])
		if end < len(s) && s[end] != '\n' {
			b.WriteByte('\n')
		}
		prev = end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// CollapseWhitespace squeezes tabs and repeated spaces, trims spaces around
// line breaks, limits blank lines to one and trims the result.
func CollapseWhitespace(s string) string {
	s = reTabs.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	s = reSpaceNewline.ReplaceAllString(s, "\n")
	s = reNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// maxPasses bounds the fixpoint iteration in Normalize.
const maxPasses = 4

// Normalizer turns model output into plain text suitable for incremental
// display. It is safe for concurrent use.
type Normalizer struct {
	pipeline []Transform
}

// NewNormalizer builds the standard pipeline with the given headings.
// A nil slice selects DefaultHeadings.
func NewNormalizer(headings []string) *Normalizer {
	if headings == nil {
		headings = DefaultHeadings
	}
	return NewPipeline(
		NormalizeNewlines,
		StripMarkdown,
		HeadingBreaks(headings),
		NormalizeLists,
		IsolateURLs,
		CollapseWhitespace,
	)
}

// NewPipeline builds a Normalizer from arbitrary transforms.
func NewPipeline(transforms ...Transform) *Normalizer {
	return &Normalizer{pipeline: transforms}
}

// Normalize runs the pipeline until the text stops changing, so that
// Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	for i := 0; i < maxPasses; i++ {
		next := n.apply(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (n *Normalizer) apply(s string) string {
	for _, t := range n.pipeline {
		s = t(s)
	}
	return s
}
