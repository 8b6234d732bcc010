package analyzer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// CycleMetrics is the observability hook the analyzer reports into.
type CycleMetrics interface {
	RecordAnalyzerCycle(elapsed time.Duration)
	RecordAnalyzerFailure()
}

// Analyzer drives the periodic analytics cycle. Heavy algorithms run
// here so scoring only ever reads pre-computed node properties.
type Analyzer struct {
	store    graph.Analytics
	detector *Detector
	cfg      config.AnalyzerConfig
	dormant  int
	metrics  CycleMetrics
	logger   *slog.Logger

	mu        sync.Mutex
	lastStats map[string]any

	// nil until the first probe; probed once per process.
	gdsAvailable *bool
}

func New(store graph.Analytics, detector *Detector, cfg config.AnalyzerConfig, dormantDays int, metrics CycleMetrics, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:     store,
		detector:  detector,
		cfg:       cfg,
		dormant:   dormantDays,
		metrics:   metrics,
		logger:    logger,
		lastStats: map[string]any{},
	}
}

// Run loops until the context is cancelled. A short initial delay lets
// some data accumulate before the first cycle.
func (a *Analyzer) Run(ctx context.Context) {
	a.logger.Info("graph analyzer started", "interval_sec", a.cfg.IntervalSec)
	select {
	case <-ctx.Done():
		return
	case <-time.After(3 * time.Second):
	}

	ticker := time.NewTicker(time.Duration(a.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		stats, err := a.RunOnce(ctx)
		if err != nil {
			a.logger.Error("graph analytics cycle failed", "error", err)
			if a.metrics != nil {
				a.metrics.RecordAnalyzerFailure()
			}
		} else {
			a.mu.Lock()
			a.lastStats = stats
			a.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			a.logger.Info("graph analyzer stopped")
			return
		case <-ticker.C:
		}
	}
}

// LastRunStats returns the most recent successful cycle's stats.
func (a *Analyzer) LastRunStats() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.lastStats))
	for k, v := range a.lastStats {
		out[k] = v
	}
	return out
}

func (a *Analyzer) probeGDS(ctx context.Context) bool {
	if a.gdsAvailable != nil {
		return *a.gdsAvailable
	}
	available := false
	if version, err := a.store.ProbeGDS(ctx); err == nil {
		a.logger.Info("GDS plugin detected, using native algorithms", "version", version)
		available = true
	} else {
		a.logger.Warn("GDS plugin not available, using pure-Cypher fallback algorithms")
	}
	a.gdsAvailable = &available
	return available
}

// RunOnce executes a single analytics cycle and returns its stats.
// Individual phases degrade independently; only a context cancellation
// fails the whole cycle.
func (a *Analyzer) RunOnce(ctx context.Context) (map[string]any, error) {
	t0 := time.Now()
	stats := map[string]any{}

	gds := a.probeGDS(ctx)

	// Phase 1: aggregation moved off the hot path.
	if n, err := a.store.BatchUpdateUserStats(ctx, a.cfg.IntervalSec*3); err == nil {
		stats["user_stats_updated"] = n
		a.logger.Info("user stats aggregated", "users", n)
	} else {
		a.logger.Warn("user stats aggregation failed", "error", err)
	}

	if n, err := a.store.BatchUpdateDeviceStats(ctx); err == nil {
		stats["device_stats_updated"] = n
	} else {
		a.logger.Warn("device stats update failed", "error", err)
	}

	if n, err := a.store.FlagDormantAccounts(ctx, a.dormant); err == nil {
		stats["dormant_flagged"] = n
	} else {
		a.logger.Warn("dormant flagging failed", "error", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 2+3: centrality and communities.
	if gds {
		a.runGDS(ctx, stats)
	} else {
		a.runFallback(ctx, stats)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 4: collusion snapshot refresh.
	stats["detection"] = a.detector.Refresh(ctx)

	elapsed := time.Since(t0)
	stats["elapsed_sec"] = math.Round(elapsed.Seconds()*1000) / 1000
	if a.metrics != nil {
		a.metrics.RecordAnalyzerCycle(elapsed)
	}
	a.logger.Info("graph analytics cycle complete", "elapsed", elapsed)
	return stats, nil
}

func (a *Analyzer) runGDS(ctx context.Context, stats map[string]any) {
	// Old projection may not exist on the first cycle.
	if err := a.store.DropProjection(ctx); err != nil {
		a.logger.Debug("projection drop skipped", "error", err)
	}

	nodes, rels, err := a.store.CreateProjection(ctx)
	if err != nil {
		// GDS licence may have lapsed mid-flight; fall back this cycle.
		a.logger.Warn("GDS projection failed, falling back to Cypher for this cycle", "error", err)
		stats["projection_error"] = err.Error()
		a.runFallback(ctx, stats)
		return
	}
	stats["projection"] = map[string]int64{"nodes": nodes, "rels": rels}
	a.logger.Info("GDS projection created", "nodes", nodes, "rels", rels)

	if n, err := a.store.RunLouvain(ctx); err == nil {
		stats["louvain"] = n
	} else {
		a.logger.Warn("louvain failed", "error", err)
	}
	if n, err := a.store.RunBetweenness(ctx); err == nil {
		stats["betweenness"] = n
	} else {
		a.logger.Warn("betweenness failed", "error", err)
	}
	if n, err := a.store.RunPageRank(ctx); err == nil {
		stats["pagerank"] = n
	} else {
		a.logger.Warn("pagerank failed", "error", err)
	}
	if n, err := a.store.RunLocalClustering(ctx); err == nil {
		stats["clustering"] = n
	} else {
		a.logger.Warn("local clustering failed", "error", err)
	}
	if n, err := a.store.RunWCC(ctx); err == nil {
		stats["wcc"] = n
	} else {
		a.logger.Debug("wcc skipped", "error", err)
	}
}

func (a *Analyzer) runFallback(ctx context.Context, stats map[string]any) {
	stats["mode"] = "cypher-fallback"

	if n, err := a.store.FallbackCommunities(ctx); err == nil {
		stats["louvain"] = n
		a.logger.Info("fallback communities assigned", "nodes", n)
	} else {
		a.logger.Warn("fallback community detection failed", "error", err)
	}
	if n, err := a.store.FallbackBetweenness(ctx); err == nil {
		stats["betweenness"] = n
	} else {
		a.logger.Warn("fallback betweenness failed", "error", err)
	}
	if n, err := a.store.FallbackPageRank(ctx); err == nil {
		stats["pagerank"] = n
	} else {
		a.logger.Warn("fallback pagerank failed", "error", err)
	}
	if n, err := a.store.FallbackClustering(ctx); err == nil {
		stats["clustering"] = n
	} else {
		a.logger.Warn("fallback clustering failed", "error", err)
	}
}
