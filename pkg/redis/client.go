package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const namespace = "cs"

// Keyspace is the second key segment, grouping keys by owner.
type Keyspace string

const (
	KeyspaceIdempotency Keyspace = "idem"
	KeyspaceLock        Keyspace = "lock"
	KeyspaceRateLimit   Keyspace = "rl"
)

// INCR then PEXPIRE on the first hit, in one round trip.
const incrExpireScript = `local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`

// DEL only while the stored value still matches ARGV[1].
const releaseIfOwnerScript = `if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`

var errNotInitialized = errors.New("redis client not initialized")

type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client is the shared Redis handle for idempotency replay, rate limiting
// and cron leases.
type Client struct {
	cmd  commands
	conn *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is what the HTTP idempotency middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis from cfg and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis ready")
	}
	return &Client{cmd: conn, conn: conn}, nil
}

// optionsFromConfig prefers CREDITSHARE_REDIS_URL and lets explicit pool
// settings fill whatever the URL leaves unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	opts.DB = firstNonZero(opts.DB, cfg.DB)
	opts.PoolSize = firstNonZero(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = firstNonZero(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = firstNonZero(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = firstNonZero(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = firstNonZero(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func firstNonZero[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmd == nil {
		return "", errNotInitialized
	}
	return c.cmd.Get(ctx, key).Result()
}

// Set overwrites key unconditionally.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmd == nil {
		return false, errNotInitialized
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// IncrWithTTL bumps a fixed-window counter. The window starts with the first
// increment; later hits never extend it.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.cmd == nil {
		return 0, errNotInitialized
	}
	return c.cmd.Eval(ctx, incrExpireScript, []string{key}, ttl.Milliseconds()).Int64()
}

// ReleaseIfOwner deletes key only when it still holds owner. It reports
// whether a delete happened.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c.cmd == nil {
		return false, errNotInitialized
	}
	n, err := c.cmd.Eval(ctx, releaseIfOwnerScript, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmd == nil {
		return errNotInitialized
	}
	return c.cmd.Ping(ctx).Err()
}

// Close is a no-op for clients built without a connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// IdempotencyKey scopes a client supplied key, e.g. cs:idem:purchase:<user>:<key>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return Key(KeyspaceIdempotency, scope, id)
}

// LockKey names a lease, e.g. cs:lock:cron-worker:prod.
func (c *Client) LockKey(name string) string {
	return Key(KeyspaceLock, name)
}

// Key joins the namespace, keyspace and non-blank parts with ':'.
func Key(space Keyspace, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(string(space))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
