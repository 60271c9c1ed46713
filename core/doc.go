// Package core provides the foundational domain types and interfaces of the
// agent runtime:
//
//   - Messages and the append-only conversation history
//   - Sessions (history, lifecycle state, step budget, prompts, toolbox)
//   - Plans produced by a Planner for each think step
//   - The Toolbox and Retriever capabilities consumed by the loop and tools
//   - The error taxonomy shared by every layer
//
// Concrete implementations (model backends, tools, stores, transport) live in
// sibling packages and depend on core, never the other way around.
package core
