// Package coordination is the Coordination Store (C3): an in-memory
// key/value layer with atomic primitives and pub/sub, backing the queue's
// busy-slot lock, the scheduler's distributed locks, credential blobs, and
// cross-replica event fan-out. It wraps a single go-redis client the way
// the corpus's own cache managers do (BaSui01-agentflow's internal/cache
// and llm/idempotency packages), generalized from "a cache" to "the
// orchestration core's one source of distributed atomicity."
package coordination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures the underlying Redis connection.
type Config struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// Client is the coordination store's handle. All keys it touches are
// prefixed, so a single Redis instance can host more than one orchestrator
// deployment without key collisions.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New opens a connection and verifies it with a PING, matching the
// fail-fast-at-startup discipline the corpus's cache managers use.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordination: connect to redis: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger.With(zap.String("component", "coordination"))}, nil
}

// NewWithClient wraps an already-constructed go-redis client, used by tests
// against miniredis-style fakes and by processes that share one client
// across several coordination-adjacent packages.
func NewWithClient(rdb *redis.Client, keyPrefix string, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, prefix: keyPrefix, logger: logger.With(zap.String("component", "coordination"))}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether the coordination store is reachable, wrapping the
// driver's error when it is not.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("coordination: ping: %w", err)
	}
	return nil
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// RedisClient exposes the underlying go-redis client for packages (queue,
// scheduler) that need primitives this package does not wrap directly,
// such as custom Lua scripts keyed on caller-supplied rather than random
// tokens.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// PrefixedKey applies this client's key-prefix convention to an arbitrary
// key segment, for callers building their own Redis commands.
func (c *Client) PrefixedKey(parts ...string) string {
	return c.key(parts...)
}

// StripPrefix removes this client's prefix from a full key, the inverse of
// PrefixedKey, used when translating SCAN results back into logical names.
func (c *Client) StripPrefix(fullKey string) string {
	return strings.TrimPrefix(fullKey, c.prefix+":")
}
