package core

import "context"

// Memory is the append-only conversation log of one session, shared by every
// agent participating in it.
//
// Implementations must:
//   - Preserve insertion order exactly
//   - Serialize concurrent appends (no interleaving mid-write)
//   - Return a consistent snapshot from History that callers may not mutate
//   - Report backend exhaustion or unavailability as ErrPersistence
type Memory interface {
	Append(ctx context.Context, ev Event) error
	History(ctx context.Context) ([]Event, error)
}
