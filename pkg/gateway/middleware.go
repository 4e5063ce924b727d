package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
)

// loggingMiddleware logs basic request info and duration
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		g.logger.ComponentInfo(logging.ComponentGateway, "request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", srw.status),
			zap.Int("bytes", srw.bytes),
			zap.String("duration", time.Since(start).String()),
		)
	})
}

// corsMiddleware allows the configured origins, or any origin when none are set.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && g.originAllowed(origin) {
			if len(g.cfg.AllowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(600))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// principalMiddleware resolves the caller's principal from an API key, or from
// the trusted principal header when configured, and stores it in the context.
func (g *Gateway) principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := extractAPIKey(r); key != "" {
			principal, ok := g.cfg.APIKeys[key]
			if !ok || principal == "" {
				w.Header().Set("WWW-Authenticate", "Bearer error=\"invalid_token\"")
				g.writeError(w, r, ferrors.NewUnauthorizedError("invalid API key"))
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), principal)))
			return
		}

		if g.cfg.PrincipalHeader != "" {
			if principal := strings.TrimSpace(r.Header.Get(g.cfg.PrincipalHeader)); principal != "" {
				next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), principal)))
				return
			}
		}

		g.writeError(w, r, ferrors.NewUnauthorizedError("missing API key"))
	})
}

// extractAPIKey extracts API key from Authorization, X-API-Key header, or query parameters
func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		lower := strings.ToLower(auth)
		switch {
		case strings.HasPrefix(lower, "bearer "):
			return strings.TrimSpace(auth[len("Bearer "):])
		case strings.HasPrefix(lower, "apikey "):
			return strings.TrimSpace(auth[len("ApiKey "):])
		case !strings.Contains(auth, " "):
			return strings.TrimSpace(auth)
		}
	}

	// Browsers cannot set headers on WebSocket upgrades.
	if v := strings.TrimSpace(r.URL.Query().Get("api_key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("token")); v != "" {
		return v
	}
	return ""
}
