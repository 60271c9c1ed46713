// Package model defines the provider-agnostic abstraction the planner uses to
// talk to language models.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool call representation across vendors
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (model/openai, model/anthropic) implement Model so the planner
// stays decoupled from vendor SDKs.
package model
