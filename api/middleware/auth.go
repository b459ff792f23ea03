package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/creditshare-backend/api/responses"
	pkgAuth "github.com/angelmondragon/creditshare-backend/pkg/auth"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

// Auth verifies the identity-provider bearer token and seeds the request
// context with the caller's external id and profile.
func Auth(cfg config.IdentityConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseIdentityToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				ExternalID: claims.ExternalID(),
				Name:       claims.Name,
				Email:      claims.Email,
			})
			if logg != nil {
				ctx = logg.WithExternalID(ctx, claims.ExternalID())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
