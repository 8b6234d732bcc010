// Package api is the HTTP surface: synchronous scoring, dashboard and
// visualisation reads, collusion summaries and the alert websocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fraudnet/backend/internal/alerts"
	"github.com/fraudnet/backend/internal/asn"
	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/middleware"
)

// Deps bundles everything the HTTP surface serves from.
type Deps struct {
	Writer     graph.Writer
	Insights   graph.Insights
	Health     HealthChecker
	Scorer     Scorer
	Resolver   *asn.Resolver
	Throughput Throughput
	Collusion  CollusionSummary
	Analyzer   AnalyzerStatus
	Hub        *alerts.Hub
	Redis      Pinger
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	writer        graph.Writer
	insights      graph.Insights
	health        HealthChecker
	scorer        Scorer
	resolver      *asn.Resolver
	throughput    Throughput
	collusion     CollusionSummary
	analyzer      AnalyzerStatus
	hub           *alerts.Hub
	redis         Pinger
	highThreshold float64
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		logger:        logger,
		writer:        deps.Writer,
		insights:      deps.Insights,
		health:        deps.Health,
		scorer:        deps.Scorer,
		resolver:      deps.Resolver,
		throughput:    deps.Throughput,
		collusion:     deps.Collusion,
		analyzer:      deps.Analyzer,
		hub:           deps.Hub,
		redis:         deps.Redis,
		highThreshold: cfg.Risk.HighThreshold,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	var scoreHandler http.Handler = s.handleScoreTransaction()
	if cfg.Server.RateLimitPerMin > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMin, logger)
		scoreHandler = limiter.Limit(scoreHandler)
	}
	router.Handle("/transaction", scoreHandler).Methods("POST")
	router.HandleFunc("/dashboard/stats", s.handleDashboardStats()).Methods("GET")
	router.HandleFunc("/viz/fraud-network", s.handleFraudNetwork()).Methods("GET")
	router.HandleFunc("/viz/device-sharing", s.handleDeviceSharing()).Methods("GET")
	router.HandleFunc("/detection/collusive", s.handleCollusive()).Methods("GET")
	router.HandleFunc("/analytics/status", s.handleAnalyticsStatus()).Methods("GET")
	router.HandleFunc("/db/counts", s.handleDBCounts()).Methods("GET")

	if s.hub != nil {
		router.HandleFunc("/ws/alerts", s.hub.HandleAlerts)
	}

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware(logger))

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}
