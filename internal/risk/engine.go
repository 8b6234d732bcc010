// Package risk fuses the five extractor sub-scores into one transaction
// risk score with level, flags and a human-readable reason.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/features"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/models"
)

// CollusionSource serves the O(1) per-user lookups maintained by the
// background detector. The analyzer cache satisfies it.
type CollusionSource interface {
	UserFlags(userID string) []string
	UserClusterID(userID string) string
}

// Engine orchestrates the extractors and the fusion formula:
//
//	R = 0.30·graph + 0.25·behavioral + 0.20·device + 0.15·dead + 0.10·velocity
type Engine struct {
	behavioral *features.BehavioralExtractor
	dormancy   *features.DormancyExtractor
	device     *features.DeviceRiskExtractor
	graphIntel *features.GraphIntelligenceExtractor
	velocity   *features.VelocityExtractor

	writer    graph.Writer
	collusion CollusionSource
	mule      *MuleDetector

	weights config.FusionWeights
	risk    config.RiskConfig
	feats   config.FeatureConfig
	logger  *slog.Logger
}

func NewEngine(
	reader graph.Reader,
	writer graph.Writer,
	network features.NetworkScorer,
	cfg *config.Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		behavioral: features.NewBehavioralExtractor(reader, network, cfg.Features, logger),
		dormancy:   features.NewDormancyExtractor(reader, cfg.Features, logger),
		device:     features.NewDeviceRiskExtractor(reader, cfg.Features, logger),
		graphIntel: features.NewGraphIntelligenceExtractor(reader, logger),
		velocity:   features.NewVelocityExtractor(reader, cfg.Features, logger),
		writer:     writer,
		mule:       NewMuleDetector(cfg.Risk.MuleThreshold),
		weights:    cfg.Weights,
		risk:       cfg.Risk,
		feats:      cfg.Features,
		logger:     logger,
	}
}

// SetCollusionSource wires the background detector cache after both
// components exist.
func (e *Engine) SetCollusionSource(src CollusionSource) { e.collusion = src }

type extractorResults struct {
	behav  *features.BehavioralResult
	dead   *features.DormancyResult
	device *features.DeviceResult
	graph  *features.GraphIntelResult
	vel    *features.VelocityResult
}

// Score runs the five extractors concurrently and fuses the outcome. It
// does not write anything back; ScoreAndPersist does.
func (e *Engine) Score(ctx context.Context, tx *models.TransactionInput) (*models.RiskResponse, error) {
	t0 := time.Now()

	var (
		res  extractorResults
		errs [5]error
		wg   sync.WaitGroup
	)
	wg.Add(5)
	go func() {
		defer wg.Done()
		res.behav, errs[0] = e.behavioral.Compute(ctx, features.BehavioralInput{
			SenderID:   tx.SenderID,
			ReceiverID: tx.ReceiverID,
			Amount:     tx.Amount,
			Timestamp:  tx.Timestamp,
			SenderLat:  tx.SenderLat,
			SenderLon:  tx.SenderLon,
			IPAddress:  tx.IPAddress,
		})
	}()
	go func() {
		defer wg.Done()
		res.dead, errs[1] = e.dormancy.Compute(ctx, tx.SenderID, tx.Amount)
	}()
	go func() {
		defer wg.Done()
		res.device, errs[2] = e.device.Compute(ctx, features.DeviceInput{
			DeviceID:       tx.DeviceHash,
			SenderID:       tx.SenderID,
			Amount:         tx.Amount,
			AppVersion:     tx.AppVersion,
			CapabilityMask: tx.CapabilityMask,
			DeviceOS:       tx.DeviceOS,
			CredentialSub:  string(tx.CredentialSub),
		})
	}()
	go func() {
		defer wg.Done()
		res.graph, errs[3] = e.graphIntel.Compute(ctx, tx.SenderID)
	}()
	go func() {
		defer wg.Done()
		res.vel, errs[4] = e.velocity.Compute(ctx, tx.SenderID, tx.Amount)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", tx.TxID, err)
		}
	}

	sBehavioral := res.behav.Risk
	sDead := res.dead.Risk
	sDevice := res.device.Risk
	sGraph := res.graph.Risk
	sVelocity := res.vel.Risk

	// Circadian anomaly on a new device amplifies the behavioural score
	// post-gather; the two signals come from different extractors.
	if res.behav.CircadianAnomaly && res.device.IsNewDevice {
		boost := e.feats.CircadianNewDevice - e.feats.CircadianPenalty
		sBehavioral = math.Min(sBehavioral+boost, 100)
	}

	fused := e.weights.Graph*sGraph +
		e.weights.Behavioral*sBehavioral +
		e.weights.Device*sDevice +
		e.weights.DeadAccount*sDead +
		e.weights.Velocity*sVelocity
	fused = math.Min(fused, 100)

	level := models.RiskLow
	switch {
	case fused >= e.risk.HighThreshold:
		level = models.RiskHigh
	case fused >= e.risk.MediumThreshold:
		level = models.RiskMedium
	}

	flags := make([]string, 0, 8)
	flags = append(flags, res.behav.Flags...)
	flags = append(flags, res.dead.Flags...)
	flags = append(flags, res.device.Flags...)
	flags = append(flags, res.graph.Flags...)
	flags = append(flags, res.vel.Flags...)
	if e.collusion != nil {
		flags = append(flags, e.collusion.UserFlags(tx.SenderID)...)
	}

	mule := e.mule.Evaluate(&res, fused)
	if mule.IsMule {
		flags = append(flags, fmt.Sprintf("MULE SUSPECTED (confidence=%.0f%%)", mule.Confidence*100))
		flags = append(flags, mule.Reasons...)
	}
	flags = dedupe(flags)

	clusterID := res.graph.CommunityID
	if clusterID == "" && e.collusion != nil {
		clusterID = e.collusion.UserClusterID(tx.SenderID)
	}

	reason := e.buildReason(&res, fused)

	return &models.RiskResponse{
		TxID:      tx.TxID,
		RiskScore: round2(fused),
		RiskLevel: level,
		Breakdown: models.RiskBreakdown{
			Graph:       round2(sGraph),
			Behavioral:  round2(sBehavioral),
			Device:      round2(sDevice),
			DeadAccount: round2(sDead),
			Velocity:    round2(sVelocity),
		},
		ClusterID:        clusterID,
		Flags:            flags,
		Reason:           reason,
		ProcessingTimeMs: round2(float64(time.Since(t0).Microseconds()) / 1000),
		Timestamp:        tx.Timestamp,
	}, nil
}

// ScoreAndPersist scores the transaction and writes the outcome back to
// the graph: the transaction node gets score, status and reason, the
// sender node gets the new risk score. The response is valid even when
// persistence fails; the error tells the caller not to acknowledge.
func (e *Engine) ScoreAndPersist(ctx context.Context, tx *models.TransactionInput) (*models.RiskResponse, error) {
	resp, err := e.Score(ctx, tx)
	if err != nil {
		return nil, err
	}

	status := models.StatusCompleted
	switch {
	case resp.RiskScore >= e.risk.HighThreshold:
		status = models.StatusBlocked
	case resp.RiskScore >= e.risk.MediumThreshold:
		status = models.StatusFlagged
	}

	if err := e.writer.UpdateTransactionRisk(ctx, tx.TxID, resp.RiskScore, status,
		resp.Reason, tx.SenderLat, tx.SenderLon); err != nil {
		return resp, fmt.Errorf("persist tx risk %s: %w", tx.TxID, err)
	}
	if err := e.writer.UpdateUserRisk(ctx, tx.SenderID, resp.RiskScore); err != nil {
		return resp, fmt.Errorf("persist user risk %s: %w", tx.SenderID, err)
	}
	return resp, nil
}

// MediumThreshold exposes the broadcast cutoff to the worker.
func (e *Engine) MediumThreshold() float64 { return e.risk.MediumThreshold }

func dedupe(flags []string) []string {
	seen := make(map[string]struct{}, len(flags))
	out := flags[:0]
	for _, f := range flags {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
