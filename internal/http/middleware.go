package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"canvas-sync/internal/app"
	"canvas-sync/pkg/auth"
	"canvas-sync/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	auth   *auth.JWT // nil disables Auth
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config) *Middleware {
	m := &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}),
		rlimit: ratelimit.New(cfg.RatePerMin, time.Minute),
	}
	if cfg.JWTSecret != "" {
		m.auth = auth.New(cfg.JWTSecret)
	}
	return m
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// Auth enforces JWT auth when a secret is configured and adds the subject
// to the request context
func (m *Middleware) Auth(next http.Handler) http.Handler {
	if m.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Header.Get("Authorization")
		if !strings.HasPrefix(b, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Status: "error", Message: "no token"})
			return
		}
		uid, err := m.auth.Verify(strings.TrimPrefix(b, "Bearer "))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Status: "error", Message: "bad token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), uid)))
	})
}
