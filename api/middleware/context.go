package middleware

import "context"

type contextKey string

const (
	ctxExternalID contextKey = "external_id"
	ctxIdentity   contextKey = "identity"
)

// Identity is the verified profile carried by the caller's identity token.
type Identity struct {
	ExternalID string
	Name       string
	Email      string
}

func ExternalIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxExternalID).(string); ok {
		return v
	}
	return ""
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(ctxIdentity).(Identity)
	return id, ok
}

// WithIdentity seeds ctx the way Auth does; handlers under test use it directly.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxExternalID, id.ExternalID)
	return context.WithValue(ctx, ctxIdentity, id)
}
