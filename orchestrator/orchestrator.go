package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/exodus/agent"
	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/memory"
	"github.com/hupe1980/exodus/model"
	"github.com/hupe1980/exodus/session"
	"github.com/hupe1980/exodus/tool"
)

// Defaults applied by New.
const (
	DefaultMaxIterations         = 100
	DefaultMaxConcurrentSessions = 10
)

var (
	// ErrUnknownAgent is returned when a session names an agent that was
	// never registered.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrSessionActive is returned when Run is called with the id of a
	// session that is still running.
	ErrSessionActive = errors.New("session already active")

	// ErrSessionNotFound is returned by Cancel for ids that are not running.
	ErrSessionNotFound = errors.New("session not found")
)

// ModelFactory resolves the model an agent talks to.
type ModelFactory func(def core.AgentDefinition) (model.Model, error)

// MemoryFactory creates the conversation log of a new session.
type MemoryFactory func(sessionID string) (core.Memory, error)

// Options configure an Orchestrator.
type Options struct {
	// MaxIterations is the session-wide step ceiling, shared by every agent
	// of a session and never reset on handoff. The step that brings the
	// count to MaxIterations ends the session with
	// core.ErrMaxIterationsExceeded instead of running, so at most
	// MaxIterations-1 agent steps are dispatched. Zero means unlimited.
	MaxIterations int

	// MaxConcurrentSessions bounds how many sessions step at once. Further
	// Run calls wait for a slot.
	MaxConcurrentSessions int

	// DefaultAgent is the entry agent used when a RunRequest names none.
	// When empty the first registered agent is used.
	DefaultAgent string

	Tools  *tool.Registry
	Driver driver.Driver
	Models ModelFactory

	// Memory is used when a RunRequest carries no Memory. Defaults to a
	// fresh memory.InMemory per session.
	Memory MemoryFactory

	// Sessions receives a state snapshot after every step.
	Sessions session.Store

	Callbacks *CallbackManager
	Logger    logging.Logger
}

// RunRequest starts one session.
type RunRequest struct {
	// SessionID defaults to a fresh UUID.
	SessionID string
	// EntryAgent defaults to Options.DefaultAgent.
	EntryAgent string
	// Input is appended as the user message that opens the session. It may
	// be empty when Memory already holds a conversation.
	Input  string
	Memory core.Memory
}

// Orchestrator drives sessions: it owns each session's state, charges the
// global iteration budget, dispatches the active agent and moves the active
// pointer on handoff.
type Orchestrator struct {
	opts Options
	sem  *semaphore.Weighted

	agents map[string]core.AgentDefinition
	order  []string
	mu     sync.RWMutex

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// New creates an orchestrator.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxIterations:         DefaultMaxIterations,
		MaxConcurrentSessions: DefaultMaxConcurrentSessions,
		Logger:                logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations < 0 {
		opts.MaxIterations = 0
	}
	if opts.MaxConcurrentSessions <= 0 {
		opts.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Driver == nil {
		opts.Driver = driver.NewLocal(func(o *driver.Options) { o.Logger = opts.Logger })
	}
	if opts.Memory == nil {
		opts.Memory = func(string) (core.Memory, error) { return memory.NewInMemory(), nil }
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	return &Orchestrator{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrentSessions)),
		agents: make(map[string]core.AgentDefinition),
		active: make(map[string]context.CancelFunc),
	}
}

// Register adds def. Registering a name again replaces the earlier
// definition for sessions started afterwards.
func (o *Orchestrator) Register(def core.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for _, name := range def.Tools {
		if _, err := o.opts.Tools.Resolve(name); err != nil {
			return fmt.Errorf("agent %q: %w", def.Name, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.agents[def.Name]; exists {
		o.opts.Logger.Warn("orchestrator.agent.overwrite", "agent", def.Name)
	} else {
		o.order = append(o.order, def.Name)
	}
	o.agents[def.Name] = def.Clone()
	return nil
}

// Agent implements agent.Directory.
func (o *Orchestrator) Agent(name string) (core.AgentDefinition, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.agents[name]
	if !ok {
		return core.AgentDefinition{}, false
	}
	return def.Clone(), true
}

// Agents returns the registered agent names in registration order.
func (o *Orchestrator) Agents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

// Validate reports handoff targets that do not name a registered agent.
// Such handoffs are rejected at run time; Validate surfaces them early.
func (o *Orchestrator) Validate() error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var errs []error
	for _, name := range o.order {
		for _, target := range o.agents[name].Handoffs {
			if _, ok := o.agents[target]; !ok {
				errs = append(errs, fmt.Errorf("agent %q: handoff target %q: %w", name, target, ErrUnknownAgent))
			}
		}
	}
	return errors.Join(errs...)
}

// Session returns the latest state snapshot of a running or finished
// session.
func (o *Orchestrator) Session(id string) (core.SessionState, bool) {
	return o.opts.Sessions.Get(id)
}

// ActiveSessions returns the ids of running sessions, sorted.
func (o *Orchestrator) ActiveSessions() []string {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()

	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel stops a running session. Its Run returns a cancelled outcome.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.activeMu.Lock()
	cancel, ok := o.active[sessionID]
	o.activeMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	cancel()
	return nil
}

// Run executes a session until an agent concludes, the iteration ceiling
// is reached, ctx is cancelled or a fatal error occurs. The returned outcome
// is always populated; the error is nil only for concluded sessions.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (core.Outcome, error) {
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}

	entry := req.EntryAgent
	if entry == "" {
		entry = o.defaultAgent()
	}
	if _, ok := o.Agent(entry); !ok {
		return rejected(req.SessionID, entry, fmt.Errorf("%w: %q", ErrUnknownAgent, entry))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.track(req.SessionID, cancel); err != nil {
		return rejected(req.SessionID, entry, err)
	}
	defer o.untrack(req.SessionID)

	r := &run{
		o:       o,
		state:   core.NewSessionState(req.SessionID, entry),
		engines: make(map[string]*agent.Engine),
		logger:  sessionLogger(o.opts.Logger, req.SessionID),
	}

	if err := o.sem.Acquire(runCtx, 1); err != nil {
		return r.finish(runCtx, core.OutcomeCancelled, "", core.CancellationError(err))
	}
	defer o.sem.Release(1)

	r.mem = req.Memory
	if r.mem == nil {
		mem, err := o.opts.Memory(req.SessionID)
		if err != nil {
			return r.fail(runCtx, core.PersistenceError("open memory", err))
		}
		r.mem = mem
	}

	return r.loop(runCtx, req.Input)
}

func (o *Orchestrator) defaultAgent() string {
	if o.opts.DefaultAgent != "" {
		return o.opts.DefaultAgent
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.order) == 0 {
		return ""
	}
	return o.order[0]
}

func (o *Orchestrator) track(id string, cancel context.CancelFunc) error {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if _, running := o.active[id]; running {
		return fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	o.active[id] = cancel
	return nil
}

func (o *Orchestrator) untrack(id string) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	delete(o.active, id)
}

// newEngine builds the engine of one agent for one session. dir resolves
// and admits its handoff targets.
func (o *Orchestrator) newEngine(def core.AgentDefinition, dir agent.Directory) (*agent.Engine, error) {
	if o.opts.Models == nil {
		return nil, fmt.Errorf("agent %q: no model factory configured", def.Name)
	}
	m, err := o.opts.Models(def)
	if err != nil {
		return nil, fmt.Errorf("agent %q: resolve model: %w", def.Name, err)
	}
	return agent.New(def, m, func(opts *agent.Options) {
		opts.Tools = o.opts.Tools
		opts.Driver = o.opts.Driver
		opts.Agents = dir
		opts.Logger = o.opts.Logger
	})
}

// rejected is the outcome of a session that never started.
func rejected(id, entry string, err error) (core.Outcome, error) {
	state := core.NewSessionState(id, entry)
	state.Terminate()
	return core.Outcome{Status: core.OutcomeFailed, Agent: entry, State: state, Err: err}, err
}

func sessionLogger(l logging.Logger, id string) logging.Logger {
	if el, ok := l.(*logging.ExodusLogger); ok {
		return el.WithSession(id)
	}
	return l
}

var _ agent.Directory = (*Orchestrator)(nil)
