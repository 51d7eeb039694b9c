// Package api is the HTTP surface: the streaming chat endpoint, health and
// the token-protected record listings.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatcommerce/internal/chat"
	"github.com/kalambet/chatcommerce/internal/ratelimit"
	"github.com/kalambet/chatcommerce/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ChatRunner runs one chat turn.
type ChatRunner interface {
	Run(ctx context.Context, t chat.Turn, emit func(chat.Event)) chat.Outcome
}

// RecordLister lists recent chat records.
type RecordLister interface {
	ListQueries(ctx context.Context, limit int) ([]storage.Query, error)
	ListProducts(ctx context.Context, limit int) ([]storage.Product, error)
	ListLeads(ctx context.Context, limit int) ([]storage.Lead, error)
}

// JobCounter reports persistence queue depth by status.
type JobCounter interface {
	JobCounts() (map[string]int, error)
}

type Deps struct {
	Chat    ChatRunner
	Limiter *ratelimit.Limiter
	Records RecordLister
	Jobs    JobCounter // optional; omitted from /health when nil
	// Token enables the record endpoints. They are not mounted without it.
	Token string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.With(rateLimit(deps.Limiter)).Post("/chat", handleChat(deps))

		if deps.Token != "" && deps.Records != nil {
			r.Group(func(r chi.Router) {
				r.Use(BearerAuth(deps.Token))
				r.Get("/queries", handleListQueries(deps))
				r.Get("/leads", handleListLeads(deps))
				r.Get("/products", handleListProducts(deps))
			})
		}
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Jobs != nil {
			counts, err := deps.Jobs.JobCounts()
			if err != nil {
				slog.Warn("health: counting jobs", "error", err)
			} else {
				resp["jobs"] = counts
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// BearerAuth rejects requests whose Authorization header does not carry token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="chatcommerce"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies the per-client limiter. A nil limiter disables it.
func rateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				secs := l.RetryAfter()
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded, try again in %d seconds", secs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey is the client address. middleware.RealIP has already replaced
// RemoteAddr with the forwarded address when one was present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
