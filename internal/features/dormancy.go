package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// DormancyReader is the graph surface the dormancy extractor needs.
type DormancyReader interface {
	DormantWakeup(ctx context.Context, userID string, dormantDays int) (*graph.DormantWakeup, error)
	UserProfile(ctx context.Context, userID string) (*graph.UserProfile, error)
	RecentInflowOutflow(ctx context.Context, userID string, windowSec int) (*graph.FlowWindow, error)
}

// DormancyResult carries the sub-score plus the wakeup signals the mule
// accumulator consumes.
type DormancyResult struct {
	Risk  float64
	Flags []string

	IsDormant        bool
	IsFirstStrike    bool
	IsVolumeSpike    bool
	DaysInactive     float64
	InactivityScore  float64
	SpikeScore       float64
	PassThroughRatio float64
	SleepFlashFlag   bool
	SleepFlashRatio  float64
	TxCount          int64
}

// DormancyExtractor scores the dormant-account activation pattern: a
// long-sleeping account that suddenly moves money.
type DormancyExtractor struct {
	reader DormancyReader
	cfg    config.FeatureConfig
	logger *slog.Logger
}

func NewDormancyExtractor(reader DormancyReader, cfg config.FeatureConfig, logger *slog.Logger) *DormancyExtractor {
	return &DormancyExtractor{reader: reader, cfg: cfg, logger: logger}
}

func (e *DormancyExtractor) Compute(ctx context.Context, userID string, txAmount float64) (*DormancyResult, error) {
	wakeup, err := e.reader.DormantWakeup(ctx, userID, e.cfg.DormantDaysThreshold)
	if err != nil {
		return nil, fmt.Errorf("dormant wakeup: %w", err)
	}
	if wakeup != nil {
		return e.scoreWakeup(wakeup, txAmount), nil
	}
	return e.scoreLegacy(ctx, userID, txAmount)
}

func (e *DormancyExtractor) scoreWakeup(w *graph.DormantWakeup, txAmount float64) *DormancyResult {
	res := &DormancyResult{
		IsDormant:     w.IsDormant,
		IsFirstStrike: w.IsFirstStrike,
		IsVolumeSpike: w.IsVolumeSpike,
		DaysInactive:  w.DaysSlept,
		TxCount:       w.TxCount,
	}

	res.InactivityScore = math.Min(w.DaysSlept/float64(e.cfg.DormantDaysThreshold), 1) * 30

	if w.AvgTxAmount > 0 {
		res.SpikeScore = math.Min(txAmount/w.AvgTxAmount/10, 1) * 30
	} else if txAmount > 5000 {
		res.SpikeScore = 25
	}

	var firstStrikeBonus float64
	if w.IsFirstStrike {
		firstStrikeBonus = 20
	}
	if w.IsVolumeSpike {
		firstStrikeBonus = math.Min(firstStrikeBonus+10, 25)
	}

	var lowActivityBonus float64
	if w.TxCount <= 3 {
		lowActivityBonus = 10
	}

	if w.AvgTxAmount > 0 {
		res.SleepFlashRatio = txAmount / w.AvgTxAmount
	}
	res.SleepFlashFlag = res.SleepFlashRatio >= e.cfg.SleepFlashRatio &&
		w.DaysSlept >= float64(e.cfg.SleepFlashDormantDays)

	var risk float64
	if w.IsDormant || w.IsFirstStrike || w.DaysSlept > float64(e.cfg.DormantDaysThreshold) {
		risk = res.InactivityScore + res.SpikeScore + firstStrikeBonus + lowActivityBonus
		if res.SleepFlashFlag {
			risk += 20
		}
	} else {
		risk = res.SpikeScore * 0.3
	}
	res.Risk = math.Min(risk, 100)

	if w.IsFirstStrike {
		res.Flags = append(res.Flags, fmt.Sprintf("First-Strike: Dormant %dd → active", int(w.DaysSlept)))
	} else if w.IsDormant && res.Risk > 40 {
		res.Flags = append(res.Flags, "Dormant Account Activated")
	}
	if w.IsVolumeSpike {
		res.Flags = append(res.Flags, "Volume Spike After Dormancy")
	}
	if res.SpikeScore > 20 {
		res.Flags = append(res.Flags, "Sudden Volume Spike on Dormant Account")
	}
	if res.SleepFlashFlag {
		res.Flags = append(res.Flags, fmt.Sprintf("Sleep-and-Flash Mule: ratio=%.0fx, dormant=%dd",
			res.SleepFlashRatio, int(w.DaysSlept)))
	}

	return res
}

// scoreLegacy is the two-query fallback for stores that cannot answer the
// wakeup query in one round-trip.
func (e *DormancyExtractor) scoreLegacy(ctx context.Context, userID string, txAmount float64) (*DormancyResult, error) {
	profile, err := e.reader.UserProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dormancy profile: %w", err)
	}
	if profile == nil {
		return &DormancyResult{}, nil
	}

	res := &DormancyResult{IsDormant: profile.IsDormant, TxCount: profile.TxCount}

	if !profile.LastActive.IsZero() {
		res.DaysInactive = time.Since(profile.LastActive).Seconds() / 86400
	}
	res.InactivityScore = math.Min(res.DaysInactive/float64(e.cfg.DormantDaysThreshold), 1) * 30

	if profile.AvgTxAmount > 0 {
		res.SpikeScore = math.Min(txAmount/profile.AvgTxAmount/10, 1) * 30
	} else if txAmount > 5000 {
		res.SpikeScore = 25
	}

	flow, err := e.reader.RecentInflowOutflow(ctx, userID, e.cfg.VelocityWindowSec*10)
	if err != nil {
		return nil, fmt.Errorf("dormancy flow: %w", err)
	}
	var passThroughScore float64
	if flow != nil && flow.Inflow > 0 {
		res.PassThroughRatio = flow.Outflow / flow.Inflow
	}
	if flow != nil {
		passThroughScore = math.Min(res.PassThroughRatio/e.cfg.PassThroughRatio, 1) * 30
	}

	var lowActivityBonus float64
	if profile.TxCount <= 3 {
		lowActivityBonus = 10
	}

	var risk float64
	if profile.IsDormant || res.DaysInactive > float64(e.cfg.DormantDaysThreshold) {
		risk = res.InactivityScore + res.SpikeScore + passThroughScore + lowActivityBonus
	} else {
		risk = res.SpikeScore*0.3 + passThroughScore*0.3
	}
	res.Risk = math.Min(risk, 100)

	if profile.IsDormant && res.Risk > 40 {
		res.Flags = append(res.Flags, "Dormant Account Activated")
	}
	if res.PassThroughRatio > e.cfg.PassThroughRatio {
		res.Flags = append(res.Flags, "High Pass-Through Ratio")
	}
	if res.SpikeScore > 20 {
		res.Flags = append(res.Flags, "Sudden Volume Spike on Dormant Account")
	}

	return res, nil
}
