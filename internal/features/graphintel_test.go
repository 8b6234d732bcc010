package features

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/graph"
)

type fakeGraphIntelReader struct {
	features *graph.GraphFeatures
	stats    *graph.CommunityStats
}

func (f *fakeGraphIntelReader) UserGraphFeatures(_ context.Context, _ string) (*graph.GraphFeatures, error) {
	return f.features, nil
}
func (f *fakeGraphIntelReader) CommunityStats(_ context.Context, _ string) (*graph.CommunityStats, error) {
	return f.stats, nil
}

func TestGraphIntelUnknownUser(t *testing.T) {
	ext := NewGraphIntelligenceExtractor(&fakeGraphIntelReader{}, slog.Default())
	res, err := ext.Compute(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Risk)
	assert.Empty(t, res.CommunityID)
}

func TestGraphIntelMoneyRouter(t *testing.T) {
	ext := NewGraphIntelligenceExtractor(&fakeGraphIntelReader{
		features: &graph.GraphFeatures{Betweenness: 0.2, PageRank: 0.002},
	}, slog.Default())
	res, err := ext.Compute(context.Background(), "user_1")
	require.NoError(t, err)
	// Betweenness capped at 30, plus pagerank 1.
	assert.InDelta(t, 30, res.CentralityScore, 1e-9)
	assert.InDelta(t, 31, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "High Betweenness Node (Money Router)")
}

func TestGraphIntelFanOutHub(t *testing.T) {
	ext := NewGraphIntelligenceExtractor(&fakeGraphIntelReader{
		features: &graph.GraphFeatures{OutDegree: 6, InDegree: 1},
	}, slog.Default())
	res, err := ext.Compute(context.Background(), "user_1")
	require.NoError(t, err)
	assert.InDelta(t, 15, res.StructuralScore, 1e-9)
	assert.Contains(t, res.Flags, "Fan-Out Hub (Distributor)")
}

func TestGraphIntelHighRiskCommunity(t *testing.T) {
	ext := NewGraphIntelligenceExtractor(&fakeGraphIntelReader{
		features: &graph.GraphFeatures{CommunityID: "42", HasCommunity: true},
		stats:    &graph.CommunityStats{MemberCount: 5, AvgRisk: 80, HighRiskCount: 3},
	}, slog.Default())
	res, err := ext.Compute(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "42", res.CommunityID)
	assert.InDelta(t, 80, res.CommunityRisk, 1e-9)
	assert.InDelta(t, 24, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "Member of High-Risk Cluster 42")
}

func TestGraphIntelNeighborContagion(t *testing.T) {
	ext := NewGraphIntelligenceExtractor(&fakeGraphIntelReader{
		features: &graph.GraphFeatures{AvgNeighborRisk: 90},
	}, slog.Default())
	res, err := ext.Compute(context.Background(), "user_1")
	require.NoError(t, err)
	// min(90*0.3, 15)
	assert.InDelta(t, 15, res.Risk, 1e-9)
}
