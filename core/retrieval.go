package core

import "context"

// Filter restricts a retrieval search by metadata. Keys are open ended
// (category, semester, course...). A nil or empty filter is unrestricted.
type Filter map[string]string

// Snippet is one retrieved passage with a relevance score.
type Snippet struct {
	Text     string            `json:"text"`
	SourceID string            `json:"source_id"`
	Title    string            `json:"title,omitempty"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever searches a knowledge store. Results are ordered by descending score.
type Retriever interface {
	Search(ctx context.Context, query string, filter Filter, topK int) ([]Snippet, error)
}
