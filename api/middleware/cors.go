package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const localFrontend = "http://localhost:3000"

// CORS allows the configured frontend origin plus local development.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	origins := []string{localFrontend}
	if origin := strings.TrimRight(strings.TrimSpace(frontendURL), "/"); origin != "" && origin != localFrontend {
		origins = append(origins, origin)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
