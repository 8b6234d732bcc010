package risk

import (
	"fmt"
	"math"
)

const (
	passThroughThreshold = 0.75
	deviceShareThreshold = 3
)

// MuleVerdict is the heuristic mule classification for one transaction.
type MuleVerdict struct {
	IsMule     bool
	Confidence float64
	Reasons    []string
}

// MuleDetector accumulates weighted signals from the extractor outputs.
// It computes no sub-score of its own; it classifies on top of them.
type MuleDetector struct {
	fusedThreshold float64
}

func NewMuleDetector(fusedThreshold float64) *MuleDetector {
	return &MuleDetector{fusedThreshold: fusedThreshold}
}

func (m *MuleDetector) Evaluate(res *extractorResults, fusedRisk float64) MuleVerdict {
	var reasons []string
	score := 0.0

	dead := res.dead
	if dead.IsFirstStrike {
		score += 0.30
		reasons = append(reasons, fmt.Sprintf(
			"First-strike: dormant %dd → suddenly active", int(dead.DaysInactive)))
	} else if dead.IsDormant && dead.Risk > 40 {
		score += 0.25
		reasons = append(reasons, "Dormant account activated with suspicious inflow")
	}

	if dead.SleepFlashFlag {
		score += 0.25
		reasons = append(reasons, fmt.Sprintf(
			"Sleep-and-flash mule: amount %.0fx historical avg, dormant >30d",
			dead.SleepFlashRatio))
	}

	ptRatio := res.vel.PassThroughRatio
	if ptRatio > passThroughThreshold {
		score += 0.20
		reasons = append(reasons, fmt.Sprintf("High pass-through ratio (%.2f)", ptRatio))
	}

	d := res.device
	if d.AccountCount >= deviceShareThreshold {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf(
			"Device shared across %d accounts", d.AccountCount))
	}

	if d.MultiUserFlag {
		score += 0.20
		reasons = append(reasons, fmt.Sprintf(
			"SIM-swap: %d users on same device in 24h", d.MultiUserCount))
	}

	if res.graph.CommunityRisk > 50 {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf(
			"Member of high-risk cluster (risk=%.0f)", res.graph.CommunityRisk))
	}

	if res.vel.TxPerMin > 5 && ptRatio > 0.6 {
		score += 0.10
		reasons = append(reasons, fmt.Sprintf(
			"Relay pattern: %.1f tx/min, ratio=%.2f", res.vel.TxPerMin, ptRatio))
	}

	b := res.behav
	if b.ImpossibleTravel {
		score += 0.10
		reasons = append(reasons, "Impossible travel detected")
	}
	if b.SpikeFlag {
		score += 0.05
		reasons = append(reasons, "Amount spike vs historical baseline")
	}

	if d.NewDeviceHighPIN {
		score += 0.15
		reasons = append(reasons, "New device + high amount + MPIN authentication")
	}

	if d.CapMaskAnomaly >= 2 {
		score += 0.08
		reasons = append(reasons, fmt.Sprintf(
			"Device capability mask changed (Hamming=%d)", d.CapMaskAnomaly))
	}

	if d.IsNewDevice && !d.NewDeviceHighPIN {
		score += 0.05
		reasons = append(reasons, "Transaction from new/unseen device")
	}

	if b.IPRotationFlag {
		score += 0.08
		reasons = append(reasons, fmt.Sprintf(
			"IP rotation: %d unique IPs in 24h", b.IPRotationCount))
	}

	if b.FixedAmountFlag {
		score += 0.08
		reasons = append(reasons, "Fixed-amount pattern (possible structuring)")
	}

	if b.CircadianAnomaly {
		score += 0.10
		reasons = append(reasons, "Transaction at unusual hour for user's pattern")
	}

	if b.IdenticalityFlag {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf(
			"TX identicality: %d identical-amount transfers to same receiver in 1h",
			b.IdenticalityCount))
	}

	score = math.Min(score, 1.0)
	return MuleVerdict{
		IsMule:     score >= 0.5 || fusedRisk >= m.fusedThreshold,
		Confidence: math.Round(score*1000) / 1000,
		Reasons:    reasons,
	}
}
