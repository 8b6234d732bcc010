package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// VelocityReader is the graph surface the velocity extractor needs.
type VelocityReader interface {
	VelocityFeatures(ctx context.Context, userID string, windowSec int) (*graph.VelocityWindow, error)
}

// VelocityResult carries the sub-score plus the turnover signals the
// mule accumulator consumes.
type VelocityResult struct {
	Risk  float64
	Flags []string

	SendCount        int64
	ReceiveCount     int64
	TotalSent        float64
	TotalReceived    float64
	PassThroughRatio float64
	TxPerMin         float64
	BurstScore       float64
	PassThroughScore float64
}

// VelocityExtractor measures how fast money moves through an account in
// a sliding window. Inflow matched by near-immediate outflow is the
// strongest mule indicator.
type VelocityExtractor struct {
	reader VelocityReader
	cfg    config.FeatureConfig
	logger *slog.Logger
}

func NewVelocityExtractor(reader VelocityReader, cfg config.FeatureConfig, logger *slog.Logger) *VelocityExtractor {
	return &VelocityExtractor{reader: reader, cfg: cfg, logger: logger}
}

func (e *VelocityExtractor) Compute(ctx context.Context, userID string, txAmount float64) (*VelocityResult, error) {
	w, err := e.reader.VelocityFeatures(ctx, userID, e.cfg.VelocityWindowSec)
	if err != nil {
		return nil, fmt.Errorf("velocity features: %w", err)
	}
	if w == nil {
		return &VelocityResult{}, nil
	}

	res := &VelocityResult{
		SendCount:     w.SendCount,
		ReceiveCount:  w.ReceiveCount,
		TotalSent:     w.TotalSent,
		TotalReceived: w.TotalReceived,
	}

	totalActivity := w.TotalActivity

	switch {
	case totalActivity >= int64(e.cfg.BurstTxThreshold):
		res.BurstScore = 30
	case totalActivity >= int64(e.cfg.BurstTxThreshold/2):
		res.BurstScore = 15
	}

	if w.TotalReceived > 0 {
		res.PassThroughRatio = w.TotalSent / w.TotalReceived
		if res.PassThroughRatio > e.cfg.PassThroughRatio {
			res.PassThroughScore = math.Min(res.PassThroughRatio/1.5, 1) * 35
		} else if res.PassThroughRatio > 0.5 {
			res.PassThroughScore = 10
		}
	}

	res.TxPerMin = float64(totalActivity) / math.Max(float64(e.cfg.VelocityWindowSec)/60, 1)
	velocityComponent := math.Min(res.TxPerMin/10, 1) * 20

	var singleTxScore float64
	if w.TotalSent > 0 && txAmount/w.TotalSent > 0.8 {
		singleTxScore = 15
	}

	res.Risk = math.Min(res.BurstScore+res.PassThroughScore+velocityComponent+singleTxScore, 100)

	if res.BurstScore >= 30 {
		res.Flags = append(res.Flags, "Transaction Burst Detected")
	}
	if res.PassThroughScore > 25 {
		res.Flags = append(res.Flags, "Rapid Pass-Through Pattern")
	}
	if res.TxPerMin > 5 {
		res.Flags = append(res.Flags, fmt.Sprintf("High Velocity: %.1f tx/min", res.TxPerMin))
	}

	return res, nil
}
