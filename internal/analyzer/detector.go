package analyzer

import (
	"context"
	"log/slog"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// Detector runs the six collusion-pattern queries and assembles a new
// cache generation. A failed query carries the previous generation's
// results forward rather than dropping them.
type Detector struct {
	store  graph.Detector
	cache  *Cache
	cfg    config.AnalyzerConfig
	logger *slog.Logger
}

func NewDetector(store graph.Detector, cache *Cache, cfg config.AnalyzerConfig, logger *slog.Logger) *Detector {
	return &Detector{store: store, cache: cache, cfg: cfg, logger: logger}
}

// Refresh re-runs all detection queries and publishes the result.
// Returns per-pattern counts for the cycle stats.
func (d *Detector) Refresh(ctx context.Context) map[string]int {
	prev := d.cache.Snapshot()
	next := &Snapshot{}

	if islands, err := d.store.DetectFraudIslands(ctx, d.cfg.MinIslandRisk); err == nil {
		next.Islands = islands
	} else {
		d.logger.Warn("fraud islands query failed", "error", err)
		next.Islands = prev.Islands
	}

	if routers, err := d.store.DetectMoneyRouters(ctx, d.cfg.MinBetweenness); err == nil {
		next.Routers = routers
	} else {
		d.logger.Warn("money routers query failed", "error", err)
		next.Routers = prev.Routers
	}

	if rings, err := d.store.DetectCircularFlows(ctx); err == nil {
		next.Rings = rings
	} else {
		d.logger.Warn("circular flows query failed", "error", err)
		next.Rings = prev.Rings
	}

	if chains, err := d.store.DetectRapidChains(ctx); err == nil {
		next.Chains = chains
	} else {
		d.logger.Warn("rapid chains query failed", "error", err)
		next.Chains = prev.Chains
	}

	if hubs, err := d.store.DetectStarHubs(ctx, d.cfg.StarHubMinDegree); err == nil {
		next.Hubs = hubs
	} else {
		d.logger.Warn("star hubs query failed", "error", err)
		next.Hubs = prev.Hubs
	}

	if relays, err := d.store.DetectRelayMules(ctx, d.cfg.MinRelayFlowRatio); err == nil {
		next.Relays = relays
	} else {
		d.logger.Warn("relay mules query failed", "error", err)
		next.Relays = prev.Relays
	}

	d.cache.Swap(next)

	counts := map[string]int{
		"fraud_islands":  len(next.Islands),
		"money_routers":  len(next.Routers),
		"circular_flows": len(next.Rings),
		"rapid_chains":   len(next.Chains),
		"star_hubs":      len(next.Hubs),
		"relay_mules":    len(next.Relays),
	}
	d.logger.Info("collusion detection refreshed",
		"islands", counts["fraud_islands"],
		"routers", counts["money_routers"],
		"rings", counts["circular_flows"],
		"chains", counts["rapid_chains"],
		"hubs", counts["star_hubs"],
		"relays", counts["relay_mules"])
	return counts
}
