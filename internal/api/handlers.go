package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/models"
)

// Scorer is the synchronous scoring surface. *risk.Engine satisfies it.
type Scorer interface {
	ScoreAndPersist(ctx context.Context, tx *models.TransactionInput) (*models.RiskResponse, error)
}

// Throughput reports worker-side counters for the dashboard.
type Throughput interface {
	Throughput() (tps float64, avgLatencyMs float64)
}

// CollusionSummary is the cached collusion read model.
type CollusionSummary interface {
	Summary() map[string]any
	Version() uint64
}

// AnalyzerStatus exposes the last analytics cycle's stats.
type AnalyzerStatus interface {
	LastRunStats() map[string]any
}

// Pinger covers the Redis liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthChecker covers the graph liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleScoreTransaction scores one transaction synchronously: ingest,
// enrich, score, persist, respond. The response is served even when the
// risk write-back fails; the failure is logged, not surfaced.
func (s *Server) handleScoreTransaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable request body")
			return
		}

		tx, err := models.ParseTransaction(payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := r.Context()
		if err := s.writer.IngestTransaction(ctx, tx); err != nil {
			s.logger.Error("transaction ingest failed", "tx_id", tx.TxID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "graph write failed")
			return
		}

		s.ingestIP(ctx, tx)

		resp, err := s.scorer.ScoreAndPersist(ctx, tx)
		if err != nil {
			if resp == nil {
				s.logger.Error("scoring failed", "tx_id", tx.TxID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "scoring failed")
				return
			}
			// Scored but not persisted; serve the score anyway.
			s.logger.Warn("risk persist failed", "tx_id", tx.TxID, "error", err)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) ingestIP(ctx context.Context, tx *models.TransactionInput) {
	if tx.IPAddress == "" || s.resolver == nil || !s.resolver.Enabled() {
		return
	}
	info := s.resolver.Resolve(tx.IPAddress)
	if !info.Valid {
		return
	}
	rec := &graph.IPRecord{
		UserID:     tx.SenderID,
		IPAddress:  tx.IPAddress,
		GeoLat:     tx.SenderLat,
		GeoLon:     tx.SenderLon,
		ASN:        info.ASN,
		ASNType:    info.Class,
		ASNOrg:     info.OrgName,
		ASNCountry: info.Country,
	}
	if err := s.writer.IngestIP(ctx, rec); err != nil {
		s.logger.Debug("ip ingest failed", "tx_id", tx.TxID, "error", err)
	}
}

// handleDashboardStats merges graph aggregates with worker throughput.
func (s *Server) handleDashboardStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs, err := s.insights.DashboardStats(r.Context(), s.highThreshold)
		if err != nil {
			s.logger.Error("dashboard stats query failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "stats unavailable")
			return
		}

		var tps, avgMs float64
		if s.throughput != nil {
			tps, avgMs = s.throughput.Throughput()
		}

		writeJSON(w, http.StatusOK, models.DashboardStats{
			TotalTransactions:    gs.TotalTransactions,
			FlaggedTransactions:  gs.FlaggedTransactions,
			ActiveClusters:       gs.ActiveClusters,
			AvgRiskScore:         gs.AvgRisk,
			TotalAmountProcessed: gs.TotalAmount,
			AvgProcessingTimeMs:  avgMs,
			TPS:                  tps,
		})
	}
}

// handleFraudNetwork exports the transfer graph above a risk floor,
// optionally restricted to specific clusters.
func (s *Server) handleFraudNetwork() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minRisk := 0.0
		if v := r.URL.Query().Get("min_risk"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "min_risk must be a number")
				return
			}
			minRisk = f
		}

		var clusterIDs []string
		if v := r.URL.Query().Get("cluster_ids"); v != "" {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					clusterIDs = append(clusterIDs, id)
				}
			}
		}

		edges, err := s.insights.FraudNetwork(r.Context(), minRisk, clusterIDs)
		if err != nil {
			s.logger.Error("fraud network query failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "network export unavailable")
			return
		}
		if edges == nil {
			edges = []graph.NetworkEdge{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"min_risk": minRisk,
			"edges":    edges,
			"count":    len(edges),
		})
	}
}

func (s *Server) handleDeviceSharing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := s.insights.DeviceSharing(r.Context())
		if err != nil {
			s.logger.Error("device sharing query failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "device sharing unavailable")
			return
		}
		if devices == nil {
			devices = []graph.SharedDevice{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"devices": devices,
			"count":   len(devices),
		})
	}
}

// handleCollusive serves the cached collusion snapshot; it never
// touches the graph.
func (s *Server) handleCollusive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := s.collusion.Summary()
		summary["snapshot_version"] = s.collusion.Version()
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleAnalyticsStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.analyzer.LastRunStats())
	}
}

func (s *Server) handleDBCounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := s.insights.NodeCounts(r.Context())
		if err != nil {
			s.logger.Error("node counts query failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "counts unavailable")
			return
		}
		rels, err := s.insights.RelationshipCounts(r.Context())
		if err != nil {
			s.logger.Error("relationship counts query failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "counts unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"nodes":         nodes,
			"relationships": rels,
		})
	}
}

// handleHealth probes both backing stores. Degraded dependencies keep
// the endpoint at 200 so load balancers see liveness; the body carries
// the per-store state.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		neo4jStatus := "connected"
		if err := s.health.HealthCheck(ctx); err != nil {
			neo4jStatus = "error"
		}
		redisStatus := "connected"
		if err := s.redis.Ping(ctx); err != nil {
			redisStatus = "error"
		}

		status := "healthy"
		if neo4jStatus != "connected" || redisStatus != "connected" {
			status = "degraded"
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":  status,
			"service": "fraud-engine",
			"neo4j":   neo4jStatus,
			"redis":   redisStatus,
		})
	}
}
