// Package core provides the foundational domain types shared by every layer
// of Exodus:
//
//   - Events (the append-only conversation log entries shared by agents)
//   - AgentDefinition (the data-only description of an agent)
//   - ExecutionRequest / ExecutionResult (one tool invocation and its outcome)
//   - SessionState / Outcome (orchestrator-owned session bookkeeping)
//   - The error taxonomy (sentinels, ErrorCode, ToolError)
//   - The Memory interface implemented by the memory backends
//
// The package holds no behavior beyond value helpers; runtime concerns live
// in the agent, orchestrator, driver and executor packages.
package core
