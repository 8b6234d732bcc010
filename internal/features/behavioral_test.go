package features

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/asn"
	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

type fakeBehavioralReader struct {
	history   []graph.TxSample
	profile   *graph.UserProfile
	ipUnique  int64
	recent    []float64
	hours     map[int64]int64
	identical int64
}

func (f *fakeBehavioralReader) UserTxHistory(_ context.Context, _ string, _ int) ([]graph.TxSample, error) {
	return f.history, nil
}
func (f *fakeBehavioralReader) UserProfile(_ context.Context, _ string) (*graph.UserProfile, error) {
	return f.profile, nil
}
func (f *fakeBehavioralReader) IPRotationCount(_ context.Context, _ string) (int64, error) {
	return f.ipUnique, nil
}
func (f *fakeBehavioralReader) RecentAmounts(_ context.Context, _ string, _ int) ([]float64, error) {
	return f.recent, nil
}
func (f *fakeBehavioralReader) HourDistribution(_ context.Context, _ string) (map[int64]int64, error) {
	return f.hours, nil
}
func (f *fakeBehavioralReader) IdenticalTxCount(_ context.Context, _, _ string, _ float64, _ int) (int64, error) {
	return f.identical, nil
}

type fakeNetwork struct{ risk asn.Risk }

func (f *fakeNetwork) ComputeRisk(_ context.Context, _, _ string) asn.Risk { return f.risk }

func newBehavioral(r BehavioralReader) *BehavioralExtractor {
	return NewBehavioralExtractor(r, &fakeNetwork{}, config.Default().Features, slog.Default())
}

// Noon on a weekday, outside the night window.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestBehavioralQuietAccount(t *testing.T) {
	ext := newBehavioral(&fakeBehavioralReader{})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", ReceiverID: "user_2", Amount: 500, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Risk)
	assert.Empty(t, res.Flags)
}

func TestBehavioralAmountSpike(t *testing.T) {
	history := make([]graph.TxSample, 6)
	for i := range history {
		history[i] = graph.TxSample{Amount: 100 + float64(i), Timestamp: noon.Add(-time.Duration(i+1) * time.Hour)}
	}
	ext := newBehavioral(&fakeBehavioralReader{history: history})

	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 50000, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.True(t, res.SpikeFlag)
	assert.True(t, res.IQROutlier)
	// z capped at 30, spike 10, IQR 15.
	assert.InDelta(t, 55, res.Risk, 1e-9)
	assert.Contains(t, res.Flags[0], "Amount spike")
}

func TestBehavioralProfileFallback(t *testing.T) {
	// No per-tx history; the profile stats drive the z-score.
	ext := newBehavioral(&fakeBehavioralReader{
		profile: &graph.UserProfile{AvgTxAmount: 200, StdTxAmount: 0},
	})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 5000, Timestamp: noon,
	})
	require.NoError(t, err)
	// Sigma floored at half the mean.
	assert.InDelta(t, (5000-200)/100.0, res.AmountZScore, 1e-9)
	assert.True(t, res.SpikeFlag)
}

func TestBehavioralVelocityWindow(t *testing.T) {
	var history []graph.TxSample
	for i := 0; i < 5; i++ {
		history = append(history, graph.TxSample{Amount: 100, Timestamp: noon.Add(-time.Duration(i) * time.Second)})
	}
	ext := newBehavioral(&fakeBehavioralReader{history: history})

	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: noon,
	})
	require.NoError(t, err)
	// 5 recent / burst threshold 10.
	assert.InDelta(t, 0.5, res.VelocityScore, 1e-9)
}

func TestBehavioralNightTime(t *testing.T) {
	ext := newBehavioral(&fakeBehavioralReader{})
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: late,
	})
	require.NoError(t, err)
	assert.True(t, res.IsNight)
	assert.InDelta(t, 5, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "Night-time transaction")
}

func TestBehavioralImpossibleTravel(t *testing.T) {
	// Last seen in Mumbai 60s ago, now transacting from Delhi.
	ext := newBehavioral(&fakeBehavioralReader{
		history: []graph.TxSample{{Amount: 100, Timestamp: noon.Add(-time.Minute)}},
		profile: &graph.UserProfile{
			AvgTxAmount: 100, LastLat: 19.0760, LastLon: 72.8777, HasLocation: true,
		},
	})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: noon,
		SenderLat: 28.7041, SenderLon: 77.1025,
	})
	require.NoError(t, err)
	assert.True(t, res.ImpossibleTravel)
	assert.Greater(t, res.GeoDistanceKm, 1000.0)
	assert.Contains(t, res.Flags[0], "Impossible travel")
}

func TestBehavioralIPRotation(t *testing.T) {
	ext := newBehavioral(&fakeBehavioralReader{ipUnique: 6})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.True(t, res.IPRotationFlag)
	assert.InDelta(t, 15, res.Risk, 1e-9)
	assert.Contains(t, res.Flags[0], "IP Rotation: 6 unique IPs")
}

func TestBehavioralCircadianAnomaly(t *testing.T) {
	// All prior activity between 01:00 and 03:00; noon is alien.
	ext := newBehavioral(&fakeBehavioralReader{
		hours: map[int64]int64{1: 40, 2: 40, 3: 20},
	})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.True(t, res.CircadianAnomaly)
	assert.InDelta(t, 20, res.CircadianScore, 1e-9)
	assert.Contains(t, res.Flags[0], "Circadian Anomaly")
}

func TestBehavioralIdenticality(t *testing.T) {
	ext := newBehavioral(&fakeBehavioralReader{identical: 4})
	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", ReceiverID: "user_2", Amount: 4999, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.True(t, res.IdenticalityFlag)
	assert.InDelta(t, 30, res.Risk, 1e-9)
}

func TestBehavioralNetworkRiskFolded(t *testing.T) {
	ext := NewBehavioralExtractor(&fakeBehavioralReader{},
		&fakeNetwork{risk: asn.Risk{Risk: 0.7, Scaled: 14, Resolution: asn.Resolution{
			Class: asn.ClassHosting, Valid: true,
		}}},
		config.Default().Features, slog.Default())

	res, err := ext.Compute(context.Background(), BehavioralInput{
		SenderID: "user_1", Amount: 100, Timestamp: noon, IPAddress: "45.114.0.9",
	})
	require.NoError(t, err)
	assert.InDelta(t, 14, res.Risk, 1e-9)
	assert.Contains(t, res.Flags[0], "ASN Risk")
}

func TestFixedAmountPattern(t *testing.T) {
	assert.True(t, fixedAmountPattern([]float64{4999, 4999, 4998.5}, 4999, 0.01, 3))
	assert.False(t, fixedAmountPattern([]float64{4999, 100, 230}, 4999, 0.01, 3))
	assert.False(t, fixedAmountPattern([]float64{4999, 4999}, 4999, 0.01, 3))
}
