package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/exodus/logging"
)

// DefaultPool is the process-wide container pool used by container drivers
// that are not given a pool explicitly.
var DefaultPool = NewPool(NewDockerRuntime())

// Pool tracks long-lived containers keyed by image and name. Execs against
// the same container are serialized; different containers run in parallel.
type Pool struct {
	runtime Runtime
	logger  logging.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	ref ContainerRef
	mu  sync.Mutex
}

// NewPool creates a pool backed by rt.
func NewPool(rt Runtime) *Pool {
	return &Pool{runtime: rt, logger: logging.NoOpLogger{}, entries: map[string]*poolEntry{}}
}

// SetLogger replaces the pool logger.
func (p *Pool) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = l
}

func (p *Pool) entry(ref ContainerRef) (*poolEntry, logging.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[ref.key()]
	if !ok {
		e = &poolEntry{ref: ref}
		p.entries[ref.key()] = e
	}
	return e, p.logger
}

// Lease is exclusive access to a running container.
type Lease struct {
	pool  *Pool
	entry *poolEntry
	once  sync.Once
}

// Acquire locks the container and makes sure it is running. The lease must
// be released.
func (p *Pool) Acquire(ctx context.Context, ref ContainerRef) (*Lease, error) {
	e, logger, err := p.lockEntry(ctx, ref)
	if err != nil {
		return nil, err
	}

	action, err := p.runtime.EnsureRunning(ctx, ref)
	if err != nil {
		e.mu.Unlock()
		logger.Error("driver.container.unavailable", "container", ref.Name, "image", ref.Image, "error", err.Error())
		return nil, err
	}
	if action != ActionReused {
		logger.Info("driver.container.ready", "container", ref.Name, "image", ref.Image, "action", action)
	}

	return &Lease{pool: p, entry: e}, nil
}

// lockEntry locks the current entry for ref. An entry dropped by Remove
// while the caller waited is unlocked again and looked up anew.
func (p *Pool) lockEntry(ctx context.Context, ref ContainerRef) (*poolEntry, logging.Logger, error) {
	for {
		e, logger := p.entry(ref)
		if err := e.lock(ctx); err != nil {
			return nil, nil, err
		}

		p.mu.Lock()
		current := p.entries[ref.key()] == e
		p.mu.Unlock()
		if current {
			return e, logger, nil
		}
		e.mu.Unlock()
	}
}

func (e *poolEntry) lock(ctx context.Context) error {
	locked := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return nil
	case <-ctx.Done():
		// Hand the lock back as soon as the waiter gets it.
		go func() {
			<-locked
			e.mu.Unlock()
		}()
		return ctx.Err()
	}
}

// Exec runs command inside the leased container.
func (l *Lease) Exec(ctx context.Context, command string) (ProcessOutput, error) {
	return l.pool.runtime.Exec(ctx, l.entry.ref, command)
}

// Release unlocks the container. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.entry.mu.Unlock)
}

// Remove tears the container down and forgets it. It waits for in-flight
// execs on that container.
func (p *Pool) Remove(ctx context.Context, ref ContainerRef) error {
	e, logger, err := p.lockEntry(ctx, ref)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := p.runtime.Remove(ctx, ref); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.entries, ref.key())
	p.mu.Unlock()

	logger.Info("driver.container.removed", "container", ref.Name, "image", ref.Image)
	return nil
}

// Containers lists the containers the pool has seen, sorted by name.
func (p *Pool) Containers() []ContainerRef {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ContainerRef, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}
