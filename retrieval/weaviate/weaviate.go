// Package weaviate implements core.Retriever on top of a Weaviate class
// holding campus knowledge documents.
package weaviate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/retrieval"
)

// DefaultClass is the class queried when Options.Class is empty.
const DefaultClass = "CampusDocument"

// Property names of the document class.
const (
	PropTitle  = "title"
	PropText   = "content"
	PropSource = "source"
)

// Options configures a Store.
type Options struct {
	Class string
	// MetadataFields are returned as snippet metadata and may be used in filters.
	MetadataFields []string
	Logger         logging.Logger
}

// Store queries a Weaviate class with nearText search.
type Store struct {
	client *weaviate.Client
	opts   Options
}

// New connects to the Weaviate instance at rawURL, e.g. "http://localhost:8080".
func New(rawURL string, optFns ...func(o *Options)) (*Store, error) {
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewFromClient(client, optFns...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *weaviate.Client, optFns ...func(o *Options)) *Store {
	opts := Options{
		Class:          DefaultClass,
		MetadataFields: []string{"category", "semester", "course", "topic"},
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, opts: opts}
}

// Search implements core.Retriever.
func (s *Store) Search(ctx context.Context, query string, filter core.Filter, topK int) ([]core.Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	get := s.client.GraphQL().Get().
		WithClassName(s.opts.Class).
		WithFields(s.fields()...).
		WithNearText(s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})).
		WithLimit(topK)
	if where := buildWhere(filter); where != nil {
		get = get.WithWhere(where)
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	snippets, err := parseResponse(resp, s.opts.Class, s.opts.MetadataFields)
	if err != nil {
		return nil, err
	}
	s.opts.Logger.Debug("retrieval.weaviate.search", "class", s.opts.Class, "results", len(snippets))
	return snippets, nil
}

// Add stores documents as objects of the class.
func (s *Store) Add(ctx context.Context, docs ...retrieval.Document) error {
	for _, d := range docs {
		props := map[string]any{PropTitle: d.Title, PropText: d.Text, PropSource: d.ID}
		for k, v := range d.Metadata {
			props[k] = v
		}
		if _, err := s.client.Data().Creator().
			WithClassName(s.opts.Class).
			WithProperties(props).
			Do(ctx); err != nil {
			return fmt.Errorf("store document %q: %w", d.Title, err)
		}
	}
	return nil
}

func (s *Store) fields() []graphql.Field {
	fields := []graphql.Field{{Name: PropTitle}, {Name: PropText}, {Name: PropSource}}
	for _, f := range s.opts.MetadataFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	return append(fields, graphql.Field{Name: "_additional { certainty }"})
}

// buildWhere turns a filter into an AND of equality conditions. Keys are
// sorted so the query is deterministic.
func buildWhere(filter core.Filter) *filters.WhereBuilder {
	keys := make([]string, 0, len(filter))
	for k, v := range filter {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, len(keys))
	for i, k := range keys {
		operands[i] = filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueString(filter[k])
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func parseResponse(resp *models.GraphQLResponse, class string, metadataFields []string) ([]core.Snippet, error) {
	if resp == nil {
		return nil, nil
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
	}

	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := get[class].([]any)
	if !ok {
		return nil, nil
	}

	out := make([]core.Snippet, 0, len(objects))
	for _, o := range objects {
		obj, ok := o.(map[string]any)
		if !ok {
			continue
		}
		sn := core.Snippet{
			Title:    str(obj[PropTitle]),
			Text:     str(obj[PropText]),
			SourceID: str(obj[PropSource]),
			Metadata: map[string]string{},
		}
		for _, f := range metadataFields {
			if v := str(obj[f]); v != "" {
				sn.Metadata[f] = v
			}
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			if c, ok := add["certainty"].(float64); ok {
				sn.Score = c
			}
		}
		out = append(out, sn)
	}
	return out, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
