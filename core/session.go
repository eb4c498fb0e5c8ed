package core

import "time"

// SessionState is the orchestrator-owned state of one session. It is passed
// and returned by value; nothing else mutates it.
//
// Contract:
//   - Exactly one agent is active at any time
//   - Iteration is monotonic for the session and never resets on handoff
//   - Once Terminal is set the session accepts no further steps
type SessionState struct {
	ID          string         `json:"id"`
	ActiveAgent string         `json:"active_agent"`
	Iteration   int            `json:"iteration"`
	Terminal    bool           `json:"terminal"`
	AgentSteps  map[string]int `json:"agent_steps,omitempty"`
	Handoffs    int            `json:"handoffs"`
	Started     time.Time      `json:"started"`
	Updated     time.Time      `json:"updated"`
}

// NewSessionState creates the state for a session starting at entryAgent.
func NewSessionState(id, entryAgent string) SessionState {
	now := time.Now().UTC()
	return SessionState{
		ID:          id,
		ActiveAgent: entryAgent,
		AgentSteps:  map[string]int{},
		Started:     now,
		Updated:     now,
	}
}

// Advance records one step of the active agent and returns the new global
// iteration count.
func (s *SessionState) Advance() int {
	s.Iteration++
	if s.AgentSteps == nil {
		s.AgentSteps = map[string]int{}
	}
	s.AgentSteps[s.ActiveAgent]++
	s.Updated = time.Now().UTC()
	return s.Iteration
}

// SwitchTo moves the active pointer to agent.
func (s *SessionState) SwitchTo(agent string) {
	s.ActiveAgent = agent
	s.Handoffs++
	s.Updated = time.Now().UTC()
}

// Terminate marks the session as finished.
func (s *SessionState) Terminate() {
	s.Terminal = true
	s.Updated = time.Now().UTC()
}

// Clone returns a copy with an independent step map.
func (s SessionState) Clone() SessionState {
	c := s
	c.AgentSteps = make(map[string]int, len(s.AgentSteps))
	for k, v := range s.AgentSteps {
		c.AgentSteps[k] = v
	}
	return c
}

// OutcomeStatus classifies how a session ended.
type OutcomeStatus string

const (
	OutcomeConcluded             OutcomeStatus = "concluded"
	OutcomeMaxIterationsExceeded OutcomeStatus = "max_iterations_exceeded"
	OutcomeCancelled             OutcomeStatus = "cancelled"
	OutcomeFailed                OutcomeStatus = "failed"
)

// Outcome is what a finished session returns to its caller.
type Outcome struct {
	Status      OutcomeStatus `json:"status"`
	FinalAnswer string        `json:"final_answer,omitempty"`
	Agent       string        `json:"agent,omitempty"`
	State       SessionState  `json:"state"`
	Err         error         `json:"-"`
}
