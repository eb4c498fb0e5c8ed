// Package model defines the provider-agnostic abstractions for interacting
// with language models inside Exodus.
//
// Core goals:
//   - A single request/response call (Complete) that honours cancellation
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel, Func)
//
// Providers (openai, anthropic sub-packages) implement the Model interface so
// agent engines remain decoupled from vendor SDKs.
package model
