package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

type fakeDetectorStore struct {
	islands    []graph.FraudIsland
	islandsErr error
	routers    []graph.MoneyRouter
	rings      []graph.CircularFlow
	chains     []graph.RapidChain
	hubs       []graph.StarHub
	relays     []graph.RelayMule
}

func (f *fakeDetectorStore) DetectFraudIslands(context.Context, float64) ([]graph.FraudIsland, error) {
	return f.islands, f.islandsErr
}
func (f *fakeDetectorStore) DetectMoneyRouters(context.Context, float64) ([]graph.MoneyRouter, error) {
	return f.routers, nil
}
func (f *fakeDetectorStore) DetectCircularFlows(context.Context) ([]graph.CircularFlow, error) {
	return f.rings, nil
}
func (f *fakeDetectorStore) DetectRapidChains(context.Context) ([]graph.RapidChain, error) {
	return f.chains, nil
}
func (f *fakeDetectorStore) DetectStarHubs(context.Context, int) ([]graph.StarHub, error) {
	return f.hubs, nil
}
func (f *fakeDetectorStore) DetectRelayMules(context.Context, float64) ([]graph.RelayMule, error) {
	return f.relays, nil
}

type fakeAnalytics struct {
	probeErr error
	projErr  error
}

func (f *fakeAnalytics) BatchUpdateUserStats(context.Context, int) (int64, error) { return 12, nil }
func (f *fakeAnalytics) BatchUpdateDeviceStats(context.Context) (int64, error)    { return 5, nil }
func (f *fakeAnalytics) FlagDormantAccounts(context.Context, int) (int64, error)  { return 2, nil }
func (f *fakeAnalytics) ProbeGDS(context.Context) (string, error)                 { return "2.6.0", f.probeErr }
func (f *fakeAnalytics) DropProjection(context.Context) error                     { return nil }
func (f *fakeAnalytics) CreateProjection(context.Context) (int64, int64, error) {
	return 100, 400, f.projErr
}
func (f *fakeAnalytics) RunLouvain(context.Context) (int64, error)         { return 100, nil }
func (f *fakeAnalytics) RunBetweenness(context.Context) (int64, error)     { return 100, nil }
func (f *fakeAnalytics) RunPageRank(context.Context) (int64, error)        { return 100, nil }
func (f *fakeAnalytics) RunLocalClustering(context.Context) (int64, error) { return 100, nil }
func (f *fakeAnalytics) RunWCC(context.Context) (int64, error)             { return 100, nil }
func (f *fakeAnalytics) FallbackCommunities(context.Context) (int64, error)  { return 80, nil }
func (f *fakeAnalytics) FallbackBetweenness(context.Context) (int64, error)  { return 80, nil }
func (f *fakeAnalytics) FallbackPageRank(context.Context) (int64, error)     { return 80, nil }
func (f *fakeAnalytics) FallbackClustering(context.Context) (int64, error)   { return 80, nil }

func newTestDetector(store graph.Detector, cache *Cache) *Detector {
	return NewDetector(store, cache, config.Default().Analyzer, slog.Default())
}

func TestDetectorRefreshPublishesCounts(t *testing.T) {
	cache := NewCache()
	d := newTestDetector(&fakeDetectorStore{
		islands: []graph.FraudIsland{{ClusterID: "cl_1", MemberIDs: []string{"user_1"}}},
		routers: []graph.MoneyRouter{{UserID: "user_2"}, {UserID: "user_3"}},
	}, cache)

	counts := d.Refresh(context.Background())
	assert.Equal(t, 1, counts["fraud_islands"])
	assert.Equal(t, 2, counts["money_routers"])
	assert.Equal(t, 0, counts["circular_flows"])
	assert.Equal(t, uint64(1), cache.Version())
	assert.Contains(t, cache.UserFlags("user_1"), "Part of Fraud Cluster cl_1")
}

func TestDetectorCarriesForwardOnQueryFailure(t *testing.T) {
	cache := NewCache()
	store := &fakeDetectorStore{
		islands: []graph.FraudIsland{{ClusterID: "cl_1", MemberIDs: []string{"user_1"}}},
	}
	d := newTestDetector(store, cache)
	d.Refresh(context.Background())

	store.islands = nil
	store.islandsErr = errors.New("query timeout")
	counts := d.Refresh(context.Background())

	// Previous generation's islands survive the failed query.
	assert.Equal(t, 1, counts["fraud_islands"])
	assert.Equal(t, uint64(2), cache.Version())
	assert.Contains(t, cache.UserFlags("user_1"), "Part of Fraud Cluster cl_1")
}

func newTestAnalyzer(store graph.Analytics) *Analyzer {
	cache := NewCache()
	d := newTestDetector(&fakeDetectorStore{}, cache)
	return New(store, d, config.Default().Analyzer, 30, nil, slog.Default())
}

func TestRunOnceWithGDS(t *testing.T) {
	a := newTestAnalyzer(&fakeAnalytics{})
	stats, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), stats["user_stats_updated"])
	assert.Equal(t, int64(2), stats["dormant_flagged"])
	assert.Equal(t, map[string]int64{"nodes": 100, "rels": 400}, stats["projection"])
	assert.Equal(t, int64(100), stats["louvain"])
	assert.NotContains(t, stats, "mode")
	assert.Contains(t, stats, "detection")
}

func TestRunOnceFallsBackWithoutGDS(t *testing.T) {
	a := newTestAnalyzer(&fakeAnalytics{probeErr: errors.New("no gds")})
	stats, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cypher-fallback", stats["mode"])
	assert.Equal(t, int64(80), stats["louvain"])
	assert.NotContains(t, stats, "projection")
}

func TestRunOnceMidCycleProjectionFallback(t *testing.T) {
	a := newTestAnalyzer(&fakeAnalytics{projErr: errors.New("licence lapsed")})
	stats, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cypher-fallback", stats["mode"])
	assert.Contains(t, stats, "projection_error")
	assert.Equal(t, int64(80), stats["betweenness"])
}

func TestRunOnceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAnalyzer(&fakeAnalytics{})
	_, err := a.RunOnce(ctx)
	assert.Error(t, err)
}

func TestLastRunStatsReturnsCopy(t *testing.T) {
	a := newTestAnalyzer(&fakeAnalytics{})
	stats, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	a.mu.Lock()
	a.lastStats = stats
	a.mu.Unlock()

	got := a.LastRunStats()
	got["louvain"] = int64(-1)
	assert.Equal(t, int64(100), a.LastRunStats()["louvain"])
}
