package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/models"
	"github.com/fraudnet/backend/internal/monitoring"
	"github.com/fraudnet/backend/internal/risk"
	"github.com/fraudnet/backend/internal/stream"
)

// Collectors register on the default registry, so the test binary shares
// one instance.
var testMetrics = monitoring.NewMetrics()

type fakeQueue struct {
	mu      sync.Mutex
	batches [][]stream.Record
	acked   []string
}

func (q *fakeQueue) Append(context.Context, []byte) (string, error) { return "", nil }

func (q *fakeQueue) Consume(ctx context.Context, _ string, _ int, _ time.Duration) ([]stream.Record, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		b := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return b, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *fakeQueue) Ack(_ context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, ids...)
	return nil
}

func (q *fakeQueue) PendingCount(context.Context) (int64, error) { return 0, nil }

func (q *fakeQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// fakeStore is an empty graph: every read returns the zero value.
type fakeStore struct{}

func (fakeStore) UserTxHistory(context.Context, string, int) ([]graph.TxSample, error) {
	return nil, nil
}
func (fakeStore) UserProfile(context.Context, string) (*graph.UserProfile, error) { return nil, nil }
func (fakeStore) DormantWakeup(context.Context, string, int) (*graph.DormantWakeup, error) {
	return nil, nil
}
func (fakeStore) RecentInflowOutflow(context.Context, string, int) (*graph.FlowWindow, error) {
	return nil, nil
}
func (fakeStore) IPRotationCount(context.Context, string) (int64, error)      { return 0, nil }
func (fakeStore) RecentAmounts(context.Context, string, int) ([]float64, error) { return nil, nil }
func (fakeStore) HourDistribution(context.Context, string) (map[int64]int64, error) {
	return nil, nil
}
func (fakeStore) IdenticalTxCount(context.Context, string, string, float64, int) (int64, error) {
	return 0, nil
}
func (fakeStore) DeviceInfo(context.Context, string) (*graph.DeviceInfo, error) { return nil, nil }
func (fakeStore) DeviceRiskPropagation(context.Context, string) (*graph.DevicePropagation, error) {
	return nil, nil
}
func (fakeStore) UserDeviceHistory(context.Context, string) ([]string, error) { return nil, nil }
func (fakeStore) DeviceUsers24h(context.Context, string) (int64, error)       { return 0, nil }
func (fakeStore) UserGraphFeatures(context.Context, string) (*graph.GraphFeatures, error) {
	return nil, nil
}
func (fakeStore) CommunityStats(context.Context, string) (*graph.CommunityStats, error) {
	return nil, nil
}
func (fakeStore) VelocityFeatures(context.Context, string, int) (*graph.VelocityWindow, error) {
	return nil, nil
}
func (fakeStore) ASNDensity(context.Context, int64) (int64, error) { return 0, nil }
func (fakeStore) UserASNHistory(context.Context, string) ([]graph.ASNUsage, error) {
	return nil, nil
}

type fakeWriter struct {
	ingestErr error
}

func (f *fakeWriter) IngestTransaction(context.Context, *models.TransactionInput) error {
	return f.ingestErr
}
func (f *fakeWriter) IngestIP(context.Context, *graph.IPRecord) error { return nil }
func (f *fakeWriter) UpdateTransactionRisk(context.Context, string, float64, models.TransactionStatus, string, float64, float64) error {
	return nil
}
func (f *fakeWriter) UpdateUserRisk(context.Context, string, float64) error { return nil }

type fakeBroadcaster struct {
	mu  sync.Mutex
	got []*models.RiskResponse
}

func (b *fakeBroadcaster) Broadcast(resp *models.RiskResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, resp)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func newTestPool(queue stream.Stream, writer graph.Writer, alerts Broadcaster, cfg *config.Config) *Pool {
	engine := risk.NewEngine(fakeStore{}, writer, nil, cfg, slog.Default())
	return NewPool(queue, writer, engine, nil, alerts, testMetrics, cfg.Worker, slog.Default())
}

const validPayload = `{"tx_id":"tx_1","sender_id":"user_1","receiver_id":"user_2",` +
	`"amount":500,"timestamp":"2026-03-10T12:00:00Z"}`

func TestHandlePoisonRecordAcked(t *testing.T) {
	queue := &fakeQueue{}
	alerts := &fakeBroadcaster{}
	p := newTestPool(queue, &fakeWriter{}, alerts, config.Default())

	p.handle(context.Background(), slog.Default(), stream.Record{ID: "1-0", Payload: []byte(`{broken`)})

	assert.Equal(t, []string{"1-0"}, queue.ackedIDs())
	assert.Zero(t, alerts.count())
}

func TestHandleMissingFieldsAcked(t *testing.T) {
	queue := &fakeQueue{}
	p := newTestPool(queue, &fakeWriter{}, nil, config.Default())

	p.handle(context.Background(), slog.Default(), stream.Record{
		ID:      "1-1",
		Payload: []byte(`{"sender_id":"user_1","receiver_id":"user_2","amount":10}`),
	})
	assert.Equal(t, []string{"1-1"}, queue.ackedIDs())
}

func TestHandleSuccessAcksAndBroadcasts(t *testing.T) {
	queue := &fakeQueue{}
	alerts := &fakeBroadcaster{}
	cfg := config.Default()
	cfg.Risk.MediumThreshold = 0 // every scored record alerts

	p := newTestPool(queue, &fakeWriter{}, alerts, cfg)
	p.handle(context.Background(), slog.Default(), stream.Record{ID: "2-0", Payload: []byte(validPayload)})

	assert.Equal(t, []string{"2-0"}, queue.ackedIDs())
	require.Equal(t, 1, alerts.count())
	assert.Equal(t, "tx_1", alerts.got[0].TxID)

	tps, avgMs := p.Throughput()
	assert.Greater(t, tps, 0.0)
	assert.Greater(t, avgMs, 0.0)

	// Second call starts a fresh window.
	tps, avgMs = p.Throughput()
	assert.Zero(t, tps)
	assert.Zero(t, avgMs)
}

func TestHandleQuietScoreDoesNotBroadcast(t *testing.T) {
	queue := &fakeQueue{}
	alerts := &fakeBroadcaster{}
	p := newTestPool(queue, &fakeWriter{}, alerts, config.Default())

	p.handle(context.Background(), slog.Default(), stream.Record{ID: "2-1", Payload: []byte(validPayload)})

	assert.Equal(t, []string{"2-1"}, queue.ackedIDs())
	assert.Zero(t, alerts.count())
}

func TestHandleIngestFailureLeavesPending(t *testing.T) {
	queue := &fakeQueue{}
	p := newTestPool(queue, &fakeWriter{ingestErr: errors.New("bolt unavailable")}, nil, config.Default())

	p.handle(context.Background(), slog.Default(), stream.Record{ID: "3-0", Payload: []byte(validPayload)})
	assert.Empty(t, queue.ackedIDs())
}

func TestBackoffGrowsUnderTransientExhaustion(t *testing.T) {
	queue := &fakeQueue{}
	writer := &fakeWriter{ingestErr: &graph.TransientError{
		Op: "ingest_tx", Err: errors.New("connection refused"),
	}}
	p := newTestPool(queue, writer, nil, config.Default())
	assert.Zero(t, p.backoffDelay())

	var prev time.Duration
	for i := 0; i < 6; i++ {
		p.handle(context.Background(), slog.Default(), stream.Record{
			ID:      fmt.Sprintf("5-%d", i),
			Payload: []byte(validPayload),
		})
		d := p.backoffDelay()
		assert.Greater(t, d, prev, "delay should keep growing at attempt %d", i)
		prev = d
	}

	assert.LessOrEqual(t, prev, backoffMax)
	// Transient failures never acknowledge.
	assert.Empty(t, queue.ackedIDs())
}

func TestBackoffDecaysAfterRecovery(t *testing.T) {
	queue := &fakeQueue{}
	writer := &fakeWriter{ingestErr: &graph.TransientError{
		Op: "ingest_tx", Err: errors.New("leader switch"),
	}}
	p := newTestPool(queue, writer, nil, config.Default())

	for i := 0; i < 5; i++ {
		p.handle(context.Background(), slog.Default(), stream.Record{ID: "6-0", Payload: []byte(validPayload)})
	}
	require.Greater(t, p.backoffDelay(), time.Duration(0))

	writer.ingestErr = nil
	for i := 0; i < 12; i++ {
		p.handle(context.Background(), slog.Default(), stream.Record{ID: "6-1", Payload: []byte(validPayload)})
	}
	assert.Zero(t, p.backoffDelay())
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	queue := &fakeQueue{batches: [][]stream.Record{{
		{ID: "4-0", Payload: []byte(validPayload)},
		{ID: "4-1", Payload: []byte(`{bad`)},
	}}}
	cfg := config.Default()
	cfg.Worker.Count = 2

	p := newTestPool(queue, &fakeWriter{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(queue.ackedIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
