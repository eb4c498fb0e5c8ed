package tool

import (
	"context"
	"sync"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Logger receives overwrite warnings. Defaults to a no-op logger.
	Logger logging.Logger
}

// Registry maps tool names to specs.
//
// Registration happens in an explicit phase before the registry is used;
// afterwards it is read-mostly and safe for concurrent Resolve/Validate/List
// calls. Registering an existing name replaces the spec (last write wins),
// logs a warning and keeps the original position in List.
type Registry struct {
	mu     sync.RWMutex
	specs  map[string]*Spec
	order  []string
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Registry{
		specs:  make(map[string]*Spec),
		logger: opts.Logger,
	}
}

// Register adds or replaces a tool. Inconsistent specs are refused.
func (r *Registry) Register(spec Spec) error {
	if err := spec.Check(); err != nil {
		return err
	}

	s := spec
	s.Params = make(map[string]Param, len(spec.Params))
	for k, v := range spec.Params {
		s.Params[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.specs[s.Name]; exists {
		r.logger.Warn("tool.registry.overwrite", "tool", s.Name, "old_kind", prev.Kind, "new_kind", s.Kind)
	} else {
		r.order = append(r.order, s.Name)
	}
	r.specs[s.Name] = &s

	r.logger.Debug("tool.registry.register", "tool", s.Name, "kind", s.Kind)

	return nil
}

// MustRegister is Register that panics on an inconsistent spec. Intended for
// static built-in registration.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Resolve returns the spec registered under name.
func (r *Registry) Resolve(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[name]
	if !ok {
		return nil, core.UnknownToolError(name)
	}
	return s, nil
}

// Validate resolves name and checks args against its schema. The returned
// map holds coerced values with defaults applied; args is never modified.
func (r *Registry) Validate(name string, args map[string]any) (*Spec, map[string]any, error) {
	s, err := r.Resolve(name)
	if err != nil {
		return nil, nil, err
	}

	clean, err := Validate(name, s.Params, args)
	if err != nil {
		r.logger.Warn("tool.call.validation_failed", "tool", name, "error", err.Error())
		return s, nil, err
	}
	return s, clean, nil
}

// List returns all specs in registration order.
func (r *Registry) List() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Definitions returns the function declarations for the named tools, in the
// given order. Unknown names yield ErrUnknownTool.
func (r *Registry) Definitions(names []string) ([]Definition, error) {
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		s, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, s.Definition())
	}
	return defs, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Lookup is the read side of a registry needed by drivers and engines.
type Lookup interface {
	Resolve(name string) (*Spec, error)
	Validate(name string, args map[string]any) (*Spec, map[string]any, error)
}

var _ Lookup = (*Registry)(nil)

// Invoke runs a python-kind spec in-process. Panics are converted into
// ExecutionFailure errors.
func Invoke(ctx context.Context, s *Spec, args map[string]any) (result any, err error) {
	if s.Kind != KindPython || s.Handler == nil {
		return nil, core.NewToolError(core.CodeExecutionFailure, s.Name, "tool has no in-process handler")
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(s.Name, rec)
		}
	}()

	return s.Handler(ctx, args)
}
