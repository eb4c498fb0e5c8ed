// Package agent implements the per-agent reasoning step.
//
// An Engine wraps one core.AgentDefinition and a model.Model. Each call to
// Step reads the shared conversation log, renders the agent's directive,
// asks the model for the next move and then either:
//
//   - concludes with the model's text answer,
//   - executes the requested tool calls through a driver.Driver and records
//     their results, or
//   - requests a handoff through a transfer_to_<agent> call.
//
// Tool failures are recorded as failed results and do not end the step with
// an error; the model sees them on its next turn. The orchestrator package
// decides what happens after a step.
package agent
