package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/exodus/core"
)

// Store is a core.Memory with maintenance operations.
type Store interface {
	core.Memory
	// Clear drops the session's history.
	Clear(ctx context.Context) error
	// Compact keeps only the last keep events (DefaultCompactKeep when keep
	// is not positive).
	Compact(ctx context.Context, keep int) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string `toml:"backend" yaml:"backend"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `toml:"redis_password" yaml:"redis_password"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db"`
	Capacity      int    `toml:"capacity" yaml:"capacity"`
	SnapshotDir   string `toml:"snapshot_dir" yaml:"snapshot_dir"`
}

// Open creates the configured backend scoped to sessionID. Connection
// failures are reported as core.ErrPersistence.
func Open(ctx context.Context, cfg Config, sessionID string) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewInMemory(func(o *InMemoryOptions) { o.Capacity = cfg.Capacity }), nil
	case BackendSQLite:
		return OpenSQL(ctx, SQLite, cfg.DSN, sessionID)
	case BackendMySQL:
		return OpenSQL(ctx, MySQL, cfg.DSN, sessionID)
	case BackendRedis:
		return OpenRedis(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			SessionID: sessionID,
		})
	default:
		return nil, fmt.Errorf("memory: unknown backend %q", cfg.Backend)
	}
}
