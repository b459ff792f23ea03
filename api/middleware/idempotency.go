package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/angelmondragon/creditshare-backend/api/responses"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/creditshare-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// inflightTTL bounds how long a crashed request can hold its key.
	inflightTTL          = time.Minute
	maxIdempotencyKeyLen = 128
)

type idempotencyRule struct {
	method   string
	pattern  string
	ttl      time.Duration
	required bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/purchases", ttl: criticalIdempotencyTTL, required: true},
	{method: http.MethodPost, pattern: "/api/v1/auth/sync", ttl: defaultIdempotencyTTL},
}

// idempotencyRecord is stored under the key. A record without Status is a
// reservation held by a request still running.
type idempotencyRecord struct {
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func (r idempotencyRecord) inflight() bool { return r.Status == 0 }

// Idempotency caches the first response for (caller, route, Idempotency-Key)
// and replays it. The key is reserved with SETNX before the handler runs, so
// a concurrent duplicate gets 409 instead of a second execution. A reused
// key with a different body is also a 409. Server errors release the key so
// the client may retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, routePattern(r))
			if !ok {
				rule, ok = matchRule(r.Method, r.URL.Path)
			}
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case clientKey == "" && rule.required:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case clientKey == "":
				next.ServeHTTP(w, r)
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(callerScope(r), clientKey)

			reserved, err := reserve(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !reserved {
				existing, err := load(ctx, store, key)
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				if err := conflictWith(existing, hash); err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				replay(w, *existing)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			completed := false
			defer func() {
				// A panic or 5xx leaves nothing worth replaying.
				if !completed {
					release(context.WithoutCancel(ctx), logg, store, key)
				}
			}()
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			completed = true
			record := idempotencyRecord{
				RequestHash: hash,
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			}
			if ct := capture.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			if err := save(context.WithoutCancel(ctx), store, key, record, rule.ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	placeholder, err := json.Marshal(idempotencyRecord{RequestHash: hash})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation")
	}
	ok, err := store.SetNX(ctx, key, string(placeholder), inflightTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	return ok, nil
}

func load(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*idempotencyRecord, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The holder released or expired between our SETNX and GET.
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried; try again")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &record, nil
}

func conflictWith(existing *idempotencyRecord, hash string) error {
	if existing.RequestHash != hash {
		return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	}
	if existing.inflight() {
		return pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress")
	}
	return nil
}

func save(ctx context.Context, store pkgredis.IdempotencyStore, key string, record idempotencyRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload), ttl)
}

func release(ctx context.Context, logg *logger.Logger, store pkgredis.IdempotencyStore, key string) {
	if err := store.Del(ctx, key); err != nil && logg != nil {
		logg.Error(ctx, "release idempotency key", err)
	}
}

func callerScope(r *http.Request) string {
	return strings.Join([]string{ExternalIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func replay(w http.ResponseWriter, record idempotencyRecord) {
	if ct := record.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	pattern = strings.TrimSuffix(pattern, "/")
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

// responseCapture tees the body so it can be stored for replay.
type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
