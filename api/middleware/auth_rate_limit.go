package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/angelmondragon/creditshare-backend/api/responses"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/creditshare-backend/pkg/redis"
)

const maxRateLimitedBody = 64 << 10

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// dimension extracts one throttling identity from a request. An empty
// identity skips the dimension.
type dimension struct {
	scope    string
	limit    int
	needBody bool
	identify func(r *http.Request, body []byte) string
}

// AuthRateLimitPolicy is a fixed-window limit per client IP and per request email.
type AuthRateLimitPolicy struct {
	name       string
	window     time.Duration
	dimensions []dimension
}

func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	p := AuthRateLimitPolicy{name: name, window: window}
	if ipLimit > 0 {
		p.dimensions = append(p.dimensions, dimension{
			scope: "ip", limit: ipLimit,
			identify: func(r *http.Request, _ []byte) string { return clientIP(r) },
		})
	}
	if emailLimit > 0 {
		p.dimensions = append(p.dimensions, dimension{
			scope: "email", limit: emailLimit, needBody: true,
			identify: func(_ *http.Request, body []byte) string { return emailDigest(body) },
		})
	}
	return p
}

// SyncRateLimitPolicy builds the policy guarding POST /api/v1/auth/sync.
func SyncRateLimitPolicy(cfg config.AuthRateLimitConfig) AuthRateLimitPolicy {
	return NewAuthRateLimitPolicy("sync", cfg.SyncWindow, cfg.SyncIPLimit, cfg.SyncEmailLimit)
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.window > 0 && len(p.dimensions) > 0
}

func (p AuthRateLimitPolicy) needsBody() bool {
	for _, d := range p.dimensions {
		if d.needBody {
			return true
		}
	}
	return false
}

// key renders cs:rl:<policy>:<scope>:<identity>.
func (p AuthRateLimitPolicy) key(scope, identity string) string {
	return pkgredis.Key(pkgredis.KeyspaceRateLimit, p.name, scope, identity)
}

// AuthRateLimit rejects requests over any dimension's limit with RATE_LIMIT_EXCEEDED.
func AuthRateLimit(policy AuthRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		retryAfter := strconv.Itoa(int(policy.window.Round(time.Second).Seconds()))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var body []byte
			if policy.needsBody() {
				var err error
				if body, err = io.ReadAll(io.LimitReader(r.Body, maxRateLimitedBody)); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			for _, d := range policy.dimensions {
				identity := d.identify(r, body)
				if identity == "" {
					continue
				}
				count, err := store.IncrWithTTL(ctx, policy.key(d.scope, identity), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count <= int64(d.limit) {
					continue
				}
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":   policy.name,
						"scope":    d.scope,
						"attempts": count,
						"limit":    d.limit,
					}), "auth.rate_limit.blocked")
				}
				w.Header().Set("Retry-After", retryAfter)
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts; retry later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP trusts the first valid X-Forwarded-For hop, then X-Real-IP, then
// the socket peer.
func clientIP(r *http.Request) string {
	candidates := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	candidates = append(candidates, r.Header.Get("X-Real-IP"))
	for _, c := range candidates {
		if ip := net.ParseIP(strings.TrimSpace(c)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// emailDigest hashes the normalized "email" field so raw addresses never
// reach Redis.
func emailDigest(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
