// Package gateway exposes dashboard feeds over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// Config holds configuration for the gateway server
type Config struct {
	ListenAddr      string
	APIKeys         map[string]string // API key -> principal id
	PrincipalHeader string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
}

// SnapshotCache answers one-shot fetches for feeds that are not live.
type SnapshotCache interface {
	Load(ctx context.Context, key feed.Key) (json.RawMessage, bool, error)
}

type Gateway struct {
	logger    *logging.ColoredLogger
	cfg       *Config
	service   *dashboard.Service
	cache     SnapshotCache
	startedAt time.Time
}

// New creates a gateway over the dashboard service. cache may be nil.
func New(logger *logging.ColoredLogger, cfg *Config, svc *dashboard.Service, cache SnapshotCache) *Gateway {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Gateway{
		logger:    logging.OrNop(logger),
		cfg:       cfg,
		service:   svc,
		cache:     cache,
		startedAt: time.Now(),
	}
}

// Routes returns the HTTP handler.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(g.corsMiddleware)

	r.Get("/health", g.healthHandler)

	r.Route("/v1/feeds", func(r chi.Router) {
		r.Use(g.principalMiddleware)
		r.Get("/", g.listFeedsHandler)
		r.Get("/{channel}", g.getFeedHandler)
		r.Post("/{channel}/refresh", g.refreshFeedHandler)
		r.Get("/{channel}/ws", g.feedWebsocketHandler)
	})
	return r
}

// Server builds the HTTP server for the configured address.
func (g *Gateway) Server() *http.Server {
	return &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"feeds":  len(g.service.Registry().Stats()),
		"uptime": time.Since(g.startedAt).Round(time.Second).String(),
	})
}

func (g *Gateway) logRequestError(r *http.Request, msg string, err error) {
	g.logger.ComponentWarn(logging.ComponentGateway, msg,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
}
