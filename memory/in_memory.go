package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/exodus/core"
)

// DefaultCompactKeep is the number of events Compact keeps when asked to keep
// a non-positive number.
const DefaultCompactKeep = 10

// ErrCapacityExhausted is wrapped in the PersistenceError returned by
// InMemory.Append once the configured capacity is reached.
var ErrCapacityExhausted = errors.New("memory capacity exhausted")

// InMemoryOptions configure an InMemory store.
type InMemoryOptions struct {
	// Capacity bounds the number of events. Zero means unbounded.
	Capacity int
}

// InMemory is a volatile Store holding one session's history in a
// mutex-guarded slice. Events are cloned on the way in and on the way out so
// callers never share state with the store.
type InMemory struct {
	mu       sync.RWMutex
	events   []core.Event
	capacity int
}

// NewInMemory creates an empty in-memory store.
func NewInMemory(optFns ...func(o *InMemoryOptions)) *InMemory {
	opts := InMemoryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemory{capacity: opts.Capacity}
}

// Append adds ev to the end of the history.
func (m *InMemory) Append(ctx context.Context, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.events) >= m.capacity {
		return core.PersistenceError("append", ErrCapacityExhausted)
	}
	m.events = append(m.events, ev.Clone())
	return nil
}

// History returns a copy of the history in insertion order.
func (m *InMemory) History(ctx context.Context) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEvents(m.events), nil
}

// Len returns the number of stored events.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Clear drops the whole history.
func (m *InMemory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}

// Compact keeps only the last keep events.
func (m *InMemory) Compact(_ context.Context, keep int) error {
	if keep <= 0 {
		keep = DefaultCompactKeep
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) > keep {
		m.events = append([]core.Event(nil), m.events[len(m.events)-keep:]...)
	}
	return nil
}

// Close is a no-op.
func (m *InMemory) Close() error { return nil }

func cloneEvents(in []core.Event) []core.Event {
	out := make([]core.Event, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

var _ Store = (*InMemory)(nil)
