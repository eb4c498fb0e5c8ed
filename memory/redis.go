package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/exodus/core"
)

// DefaultRedisKeyPrefix prefixes every session list key.
const DefaultRedisKeyPrefix = "exodus:session:"

// RedisOptions configure OpenRedis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	SessionID string
	// KeyPrefix defaults to DefaultRedisKeyPrefix.
	KeyPrefix string
	// TTL, when positive, is refreshed on every append.
	TTL time.Duration
	// DialTimeout defaults to 5s.
	DialTimeout time.Duration
}

// RedisStore keeps a session's history in one Redis list, one JSON document
// per element (RPUSH / LRANGE).
type RedisStore struct {
	client    *redis.Client
	key       string
	ttl       time.Duration
	ownClient bool

	mu sync.Mutex
}

// OpenRedis connects to Redis and returns a store for opts.SessionID.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("memory: redis address must not be empty")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.PersistenceError("connect redis", err)
	}

	s := NewRedisStore(client, opts.SessionID, func(s *RedisStore) {
		s.ttl = opts.TTL
		if opts.KeyPrefix != "" {
			s.key = opts.KeyPrefix + opts.SessionID + ":events"
		}
	})
	s.ownClient = true
	return s, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, sessionID string, optFns ...func(s *RedisStore)) *RedisStore {
	s := &RedisStore{client: client, key: RedisKey(sessionID)}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// RedisKey returns the list key of a session.
func RedisKey(sessionID string) string {
	return DefaultRedisKeyPrefix + sessionID + ":events"
}

// Key returns the list key used by the store.
func (s *RedisStore) Key() string { return s.key }

// Append pushes ev to the tail of the session list.
func (s *RedisStore) Append(ctx context.Context, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return core.PersistenceError("encode event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.RPush(ctx, s.key, payload).Err(); err != nil {
		return core.PersistenceError("append", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return core.PersistenceError("expire", err)
		}
	}
	return nil
}

// History reads the whole list in insertion order.
func (s *RedisStore) History(ctx context.Context) ([]core.Event, error) {
	values, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, core.PersistenceError("history", err)
	}

	events := make([]core.Event, 0, len(values))
	for _, v := range values {
		var ev core.Event
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return nil, core.PersistenceError("decode event", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear deletes the session list.
func (s *RedisStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return core.PersistenceError("clear", err)
	}
	return nil
}

// Compact trims the list to its last keep elements.
func (s *RedisStore) Compact(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = DefaultCompactKeep
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.LTrim(ctx, s.key, int64(-keep), -1).Err(); err != nil {
		return core.PersistenceError("compact", err)
	}
	return nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
