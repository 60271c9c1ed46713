// Package retrieval contains core.Retriever implementations for the campus
// knowledge base. The in-memory store ranks documents by keyword overlap and
// suits tests and small deployments; the weaviate sub-package queries a
// vector database.
package retrieval
