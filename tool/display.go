package tool

import "strings"

// DisplayNames maps tool identifiers to labels shown in progress frames.
type DisplayNames map[string]string

// DefaultDisplayNames is the built-in label table.
var DefaultDisplayNames = DisplayNames{
	KnowledgeSearchName: "Campus knowledge search",
	TerminateName:       "Terminate",
	"web_search":        "Web search",
	"web_scraping":      "Web scraping",
	"weather_lookup":    "Weather lookup",
	"generate_pdf":      "PDF generator",
	"maps_text_search":  "Map text search",
	"maps_direction":    "Directions",
}

// Label returns the display label for name, falling back to the raw name.
func (d DisplayNames) Label(name string) string {
	if l, ok := d[name]; ok && l != "" {
		return l
	}
	return name
}

// Join renders the labels of names as a comma separated list.
func (d DisplayNames) Join(names []string) string {
	labels := make([]string, len(names))
	for i, n := range names {
		labels[i] = d.Label(n)
	}
	return strings.Join(labels, ", ")
}

// Merge returns a copy of d overlaid with extra.
func (d DisplayNames) Merge(extra map[string]string) DisplayNames {
	out := make(DisplayNames, len(d)+len(extra))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
