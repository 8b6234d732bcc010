// Package worker drains the transaction stream through the scoring
// engine. Poison records are acknowledged and dropped; anything that
// fails transiently stays pending for redelivery. Sustained transient
// store failures raise a shared backoff that slows every consumer
// instead of churning through redelivered batches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fraudnet/backend/internal/asn"
	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/models"
	"github.com/fraudnet/backend/internal/monitoring"
	"github.com/fraudnet/backend/internal/risk"
	"github.com/fraudnet/backend/internal/stream"
)

// ErrInvalidInput marks a record that can never score, regardless of
// retries. Such records are acknowledged so they stop redelivering.
var ErrInvalidInput = errors.New("invalid transaction record")

// Broadcaster receives scored records at or above the medium threshold.
// The alerts hub satisfies it.
type Broadcaster interface {
	Broadcast(resp *models.RiskResponse)
}

const (
	consumeBlock    = 1000 * time.Millisecond
	pendingInterval = 5 * time.Second

	// Shared-backoff tuning. The failure rate is an EWMA over record
	// outcomes: transient exhaustion counts 1, success counts 0.
	// Below the floor consumers read at full speed.
	backoffAlpha = 0.3
	backoffFloor = 0.2
	backoffMax   = 5 * time.Second
)

// Pool runs N consumers against one consumer group. Each consumer has a
// unique name so pending entries can be traced back to it.
type Pool struct {
	queue    stream.Stream
	writer   graph.Writer
	engine   *risk.Engine
	resolver *asn.Resolver
	alerts   Broadcaster
	metrics  *monitoring.Metrics
	cfg      config.WorkerConfig
	logger   *slog.Logger

	// Rolling throughput counters for the dashboard.
	scored     atomic.Int64
	latencyUs  atomic.Int64
	windowBase atomic.Int64 // unix nanos when counters were last reset

	// failRate holds math.Float64bits of the transient-failure EWMA
	// shared by all consumers.
	failRate atomic.Uint64
}

func NewPool(
	queue stream.Stream,
	writer graph.Writer,
	engine *risk.Engine,
	resolver *asn.Resolver,
	alerts Broadcaster,
	metrics *monitoring.Metrics,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *Pool {
	p := &Pool{
		queue:    queue,
		writer:   writer,
		engine:   engine,
		resolver: resolver,
		alerts:   alerts,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
	p.windowBase.Store(time.Now().UnixNano())
	return p
}

// Run starts the consumers and blocks until the context is cancelled
// and every consumer has drained its in-flight batch.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool starting", "workers", p.cfg.Count, "batch", p.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		name := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, name)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reportPending(ctx)
	}()

	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) consume(ctx context.Context, consumer string) {
	log := p.logger.With("consumer", consumer)
	log.Info("consumer started")

	for {
		if ctx.Err() != nil {
			log.Info("consumer stopped")
			return
		}

		if delay := p.backoffDelay(); delay > 0 {
			log.Debug("graph store degraded, backing off", "delay", delay)
			select {
			case <-ctx.Done():
				continue
			case <-time.After(delay):
			}
		}

		records, err := p.queue.Consume(ctx, consumer, p.cfg.BatchSize, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped")
				return
			}
			log.Warn("stream read failed, backing off", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, rec := range records {
			p.handle(ctx, log, rec)
		}
	}
}

// handle scores one record end-to-end. ACK only on success or on a
// poison record; transient failures leave the record pending so the
// group redelivers it.
func (p *Pool) handle(ctx context.Context, log *slog.Logger, rec stream.Record) {
	t0 := time.Now()

	rctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.RecordTimeoutMs)*time.Millisecond)
	defer cancel()

	resp, err := p.process(rctx, rec.Payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			log.Warn("poison record dropped", "id", rec.ID, "error", err)
			p.metrics.RecordDropped()
			p.ack(ctx, log, rec.ID)
		default:
			var transient *graph.TransientError
			if errors.As(err, &transient) {
				p.metrics.RecordRetryExhausted()
				p.noteOutcome(1)
			}
			// No ACK: the record stays pending and redelivers.
			log.Warn("scoring failed, leaving record pending", "id", rec.ID, "error", err)
		}
		return
	}

	p.noteOutcome(0)

	if resp.RiskScore >= p.engine.MediumThreshold() && p.alerts != nil {
		p.alerts.Broadcast(resp)
	}

	p.ack(ctx, log, rec.ID)

	latency := time.Since(t0)
	p.metrics.RecordScored(string(resp.RiskLevel), latency)
	p.scored.Add(1)
	p.latencyUs.Add(latency.Microseconds())

	log.Debug("transaction scored",
		"tx_id", resp.TxID,
		"score", resp.RiskScore,
		"level", resp.RiskLevel,
		"latency_ms", latency.Milliseconds())
}

func (p *Pool) process(ctx context.Context, payload []byte) (*models.RiskResponse, error) {
	tx, err := models.ParseTransaction(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := p.writer.IngestTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", tx.TxID, err)
	}

	// IP ingestion is enrichment, not scoring input; failures degrade.
	if tx.IPAddress != "" && p.resolver != nil && p.resolver.Enabled() {
		if info := p.resolver.Resolve(tx.IPAddress); info.Valid {
			ipRec := &graph.IPRecord{
				UserID:     tx.SenderID,
				IPAddress:  tx.IPAddress,
				GeoLat:     tx.SenderLat,
				GeoLon:     tx.SenderLon,
				ASN:        info.ASN,
				ASNType:    info.Class,
				ASNOrg:     info.OrgName,
				ASNCountry: info.Country,
			}
			if err := p.writer.IngestIP(ctx, ipRec); err != nil {
				p.logger.Debug("ip ingest failed", "tx_id", tx.TxID, "error", err)
			}
		}
	}

	return p.engine.ScoreAndPersist(ctx, tx)
}

// ack uses the pool context's parent so a record scored just before
// shutdown still gets acknowledged.
func (p *Pool) ack(ctx context.Context, log *slog.Logger, id string) {
	ackCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ackCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := p.queue.Ack(ackCtx, id); err != nil {
		log.Warn("ack failed, record will redeliver", "id", id, "error", err)
	}
}

// noteOutcome folds one record outcome into the shared failure EWMA.
func (p *Pool) noteOutcome(sample float64) {
	for {
		old := p.failRate.Load()
		next := backoffAlpha*sample + (1-backoffAlpha)*math.Float64frombits(old)
		if p.failRate.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// backoffDelay maps the failure EWMA onto a sleep taken before the next
// stream read. Zero while the store is healthy.
func (p *Pool) backoffDelay() time.Duration {
	rate := math.Float64frombits(p.failRate.Load())
	if rate < backoffFloor {
		return 0
	}
	return time.Duration(rate * float64(backoffMax))
}

func (p *Pool) reportPending(ctx context.Context) {
	ticker := time.NewTicker(pendingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.PendingCount(ctx)
			if err != nil {
				p.logger.Debug("pending count failed", "error", err)
				continue
			}
			p.metrics.SetStreamPending(n)
		}
	}
}

// Throughput returns scored-per-second and mean latency since the last
// call, then resets the window. Serves GET /dashboard/stats.
func (p *Pool) Throughput() (tps float64, avgLatencyMs float64) {
	now := time.Now().UnixNano()
	base := p.windowBase.Swap(now)
	scored := p.scored.Swap(0)
	latUs := p.latencyUs.Swap(0)

	elapsed := float64(now-base) / float64(time.Second)
	if elapsed <= 0 || scored == 0 {
		return 0, 0
	}
	return float64(scored) / elapsed, float64(latUs) / float64(scored) / 1000
}
