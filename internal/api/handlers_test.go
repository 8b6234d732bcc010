package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/models"
)

type fakeInsights struct {
	stats    *graph.GraphStats
	statsErr error
	edges    []graph.NetworkEdge
	devices  []graph.SharedDevice
	nodes    map[string]int64
	rels     map[string]int64

	gotMinRisk  float64
	gotClusters []string
}

func (f *fakeInsights) FraudNetwork(_ context.Context, minRisk float64, clusterIDs []string) ([]graph.NetworkEdge, error) {
	f.gotMinRisk, f.gotClusters = minRisk, clusterIDs
	return f.edges, nil
}
func (f *fakeInsights) DeviceSharing(context.Context) ([]graph.SharedDevice, error) {
	return f.devices, nil
}
func (f *fakeInsights) DashboardStats(context.Context, float64) (*graph.GraphStats, error) {
	return f.stats, f.statsErr
}
func (f *fakeInsights) NodeCounts(context.Context) (map[string]int64, error) { return f.nodes, nil }
func (f *fakeInsights) RelationshipCounts(context.Context) (map[string]int64, error) {
	return f.rels, nil
}

type fakeWriter struct{ ingestErr error }

func (f *fakeWriter) IngestTransaction(context.Context, *models.TransactionInput) error {
	return f.ingestErr
}
func (f *fakeWriter) IngestIP(context.Context, *graph.IPRecord) error { return nil }
func (f *fakeWriter) UpdateTransactionRisk(context.Context, string, float64, models.TransactionStatus, string, float64, float64) error {
	return nil
}
func (f *fakeWriter) UpdateUserRisk(context.Context, string, float64) error { return nil }

type fakeScorer struct {
	resp *models.RiskResponse
	err  error
}

func (f *fakeScorer) ScoreAndPersist(context.Context, *models.TransactionInput) (*models.RiskResponse, error) {
	return f.resp, f.err
}

type fakeThroughput struct{ tps, avgMs float64 }

func (f *fakeThroughput) Throughput() (float64, float64) { return f.tps, f.avgMs }

type fakeCollusion struct{ version uint64 }

func (f *fakeCollusion) Summary() map[string]any {
	return map[string]any{"fraud_islands": 2}
}
func (f *fakeCollusion) Version() uint64 { return f.version }

type fakeAnalyzer struct{}

func (fakeAnalyzer) LastRunStats() map[string]any {
	return map[string]any{"cycles": 7}
}

type fakeHealth struct{ err error }

func (f *fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Insights == nil {
		deps.Insights = &fakeInsights{stats: &graph.GraphStats{}}
	}
	if deps.Writer == nil {
		deps.Writer = &fakeWriter{}
	}
	if deps.Health == nil {
		deps.Health = &fakeHealth{}
	}
	if deps.Redis == nil {
		deps.Redis = PingFunc(func(context.Context) error { return nil })
	}
	if deps.Collusion == nil {
		deps.Collusion = &fakeCollusion{}
	}
	if deps.Analyzer == nil {
		deps.Analyzer = fakeAnalyzer{}
	}
	return NewServer(config.Default(), deps, slog.Default())
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthHealthy(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "fraud-engine", body["service"])
	assert.Equal(t, "connected", body["neo4j"])
	assert.Equal(t, "connected", body["redis"])
}

func TestHealthDegradedStays200(t *testing.T) {
	s := newTestServer(t, Deps{
		Redis: PingFunc(func(context.Context) error { return errors.New("down") }),
	})
	w := do(s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "error", body["redis"])
	assert.Equal(t, "connected", body["neo4j"])
}

func TestScoreTransactionBadJSON(t *testing.T) {
	s := newTestServer(t, Deps{Scorer: &fakeScorer{}})
	w := do(s, "POST", "/transaction", `{nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScoreTransactionMissingFields(t *testing.T) {
	s := newTestServer(t, Deps{Scorer: &fakeScorer{}})
	w := do(s, "POST", "/transaction", `{"sender_id":"u1","amount":10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

const txBody = `{"tx_id":"tx_1","sender_id":"u1","receiver_id":"u2","amount":500,"timestamp":"2026-03-10T12:00:00Z"}`

func TestScoreTransactionSuccess(t *testing.T) {
	s := newTestServer(t, Deps{Scorer: &fakeScorer{
		resp: &models.RiskResponse{TxID: "tx_1", RiskScore: 72.5, RiskLevel: models.RiskHigh},
	}})
	w := do(s, "POST", "/transaction", txBody)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "tx_1", body["tx_id"])
	assert.Equal(t, 72.5, body["risk_score"])
	assert.Equal(t, "HIGH", body["risk_level"])
}

func TestScoreTransactionIngestFailure(t *testing.T) {
	s := newTestServer(t, Deps{
		Writer: &fakeWriter{ingestErr: errors.New("bolt down")},
		Scorer: &fakeScorer{},
	})
	w := do(s, "POST", "/transaction", txBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestScoreTransactionPersistFailureStillServes(t *testing.T) {
	s := newTestServer(t, Deps{Scorer: &fakeScorer{
		resp: &models.RiskResponse{TxID: "tx_1", RiskScore: 12},
		err:  errors.New("write-back failed"),
	}})
	w := do(s, "POST", "/transaction", txBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tx_1", decode(t, w)["tx_id"])
}

func TestScoreTransactionScoringFailure(t *testing.T) {
	s := newTestServer(t, Deps{Scorer: &fakeScorer{err: errors.New("extractors failed")}})
	w := do(s, "POST", "/transaction", txBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDashboardStatsMergesThroughput(t *testing.T) {
	s := newTestServer(t, Deps{
		Insights: &fakeInsights{stats: &graph.GraphStats{
			TotalTransactions:   1200,
			FlaggedTransactions: 34,
			ActiveClusters:      3,
			AvgRisk:             18.4,
			TotalAmount:         987654.25,
		}},
		Throughput: &fakeThroughput{tps: 420.5, avgMs: 3.2},
	})
	w := do(s, "GET", "/dashboard/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1200), body["total_transactions"])
	assert.Equal(t, float64(34), body["flagged_transactions"])
	assert.Equal(t, 420.5, body["tps"])
	assert.Equal(t, 3.2, body["avg_processing_time_ms"])
}

func TestDashboardStatsQueryFailure(t *testing.T) {
	s := newTestServer(t, Deps{Insights: &fakeInsights{statsErr: errors.New("timeout")}})
	w := do(s, "GET", "/dashboard/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFraudNetworkRejectsBadMinRisk(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(s, "GET", "/viz/fraud-network?min_risk=lots", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFraudNetworkPassesFilters(t *testing.T) {
	insights := &fakeInsights{}
	s := newTestServer(t, Deps{Insights: insights})
	w := do(s, "GET", "/viz/fraud-network?min_risk=50&cluster_ids=cl_1,%20cl_2,", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 50.0, insights.gotMinRisk)
	assert.Equal(t, []string{"cl_1", "cl_2"}, insights.gotClusters)

	// nil edge set serialises as an empty array.
	body := decode(t, w)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["edges"])
}

func TestDeviceSharing(t *testing.T) {
	s := newTestServer(t, Deps{Insights: &fakeInsights{
		devices: []graph.SharedDevice{{DeviceID: "dev_a", SharedCount: 4}},
	}})
	w := do(s, "GET", "/viz/device-sharing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestCollusiveIncludesSnapshotVersion(t *testing.T) {
	s := newTestServer(t, Deps{Collusion: &fakeCollusion{version: 9}})
	w := do(s, "GET", "/detection/collusive", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(2), body["fraud_islands"])
	assert.Equal(t, float64(9), body["snapshot_version"])
}

func TestAnalyticsStatus(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(s, "GET", "/analytics/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["cycles"])
}

func TestDBCounts(t *testing.T) {
	s := newTestServer(t, Deps{Insights: &fakeInsights{
		stats: &graph.GraphStats{},
		nodes: map[string]int64{"User": 100, "Device": 40},
		rels:  map[string]int64{"SENT": 900},
	}})
	w := do(s, "GET", "/db/counts", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	nodes := body["nodes"].(map[string]any)
	assert.Equal(t, float64(100), nodes["User"])
	rels := body["relationships"].(map[string]any)
	assert.Equal(t, float64(900), rels["SENT"])
}

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}
