package agent

// State is the phase an Engine is in. It is exposed for diagnostics only.
type State string

const (
	StateIdle         State = "Idle"
	StateThinking     State = "Thinking"
	StateToolInvoking State = "ToolInvoking"
	StateHandingOff   State = "HandingOff"
	StateConcluding   State = "Concluding"
)

// StepKind tells the orchestrator what to do after a step.
type StepKind int

const (
	// StepContinue asks for another step of the same agent.
	StepContinue StepKind = iota
	// StepHandoff asks to transfer control to StepResult.Target.
	StepHandoff
	// StepConclude ends the session with StepResult.Answer.
	StepConclude
)

func (k StepKind) String() string {
	switch k {
	case StepContinue:
		return "continue"
	case StepHandoff:
		return "handoff"
	case StepConclude:
		return "conclude"
	default:
		return "unknown"
	}
}

// StepResult is the outcome of one Thinking cycle.
type StepResult struct {
	Kind   StepKind
	Target string // StepHandoff
	Reason string // StepHandoff
	Answer string // StepConclude
	// ToolCalls is the number of regular tool calls executed in the step.
	ToolCalls int
}
