package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/exodus/core"
)

// SnapshotPath returns the default snapshot file name inside dir for t.
func SnapshotPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("exodus_memory_%s.json", t.Format("20060102150405")))
}

// SaveJSON writes the history of mem to path as an indented JSON array. The
// parent directory is created and the file is replaced atomically.
func SaveJSON(ctx context.Context, mem core.Memory, path string) error {
	events, err := mem.History(ctx)
	if err != nil {
		return err
	}
	if events == nil {
		events = []core.Event{}
	}

	data, err := json.MarshalIndent(events, "", "    ")
	if err != nil {
		return fmt.Errorf("memory: encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".exodus_memory_*")
	if err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	return nil
}

// LoadJSON reads a snapshot written by SaveJSON into a new InMemory store.
func LoadJSON(path string, optFns ...func(o *InMemoryOptions)) (*InMemory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read snapshot: %w", err)
	}

	var events []core.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("memory: decode snapshot %s: %w", path, err)
	}

	m := NewInMemory(optFns...)
	if m.capacity > 0 && len(events) > m.capacity {
		return nil, core.PersistenceError("load snapshot", ErrCapacityExhausted)
	}
	m.events = events
	return m, nil
}
