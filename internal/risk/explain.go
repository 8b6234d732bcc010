package risk

import (
	"fmt"
	"strings"
)

// buildReason turns the extractor outcomes into a concise sentence list
// an analyst can read without a feature dictionary.
func (e *Engine) buildReason(res *extractorResults, fused float64) string {
	var parts []string

	dead := res.dead
	if dead.IsDormant || dead.IsFirstStrike {
		parts = append(parts, fmt.Sprintf(
			"Account activated after %d days of inactivity", int(dead.DaysInactive)))
	}
	if dead.PassThroughRatio > e.feats.PassThroughRatio {
		parts = append(parts, fmt.Sprintf(
			"Pass-through ratio %.0f%% exceeds threshold", dead.PassThroughRatio*100))
	}
	if dead.SleepFlashFlag {
		parts = append(parts, fmt.Sprintf(
			"Sleep-and-flash mule: amount %.0fx above historical avg, dormant >30d",
			dead.SleepFlashRatio))
	}

	g := res.graph
	if g.CommunityRisk > 50 {
		cid := g.CommunityID
		if cid == "" {
			cid = "?"
		}
		parts = append(parts, fmt.Sprintf(
			"Community #%s has %.0f%% fraud density", cid, g.CommunityRisk))
	}
	if g.Betweenness > 0.01 {
		parts = append(parts, "High betweenness centrality (money router)")
	}

	d := res.device
	if d.AccountCount >= int64(e.feats.DeviceAccountThreshold) {
		parts = append(parts, fmt.Sprintf(
			"Shared device with %d other accounts", d.AccountCount))
	}
	if d.IsNewDevice {
		parts = append(parts, "Transaction from a new/unseen device")
	}
	if d.CapMaskAnomaly > 0 {
		parts = append(parts, "Device capability mask changed unexpectedly")
	}
	if d.NewDeviceHighPIN {
		parts = append(parts, "New device + high amount + MPIN authentication")
	}
	if d.MultiUserFlag {
		parts = append(parts, fmt.Sprintf(
			"SIM-swap: %d users on same device in 24h", d.MultiUserCount))
	}

	b := res.behav
	if b.ImpossibleTravel {
		parts = append(parts, "Impossible travel detected between consecutive transactions")
	}
	if b.AmountZScore > 3 {
		parts = append(parts, fmt.Sprintf(
			"Amount z-score %.1fx above user baseline", b.AmountZScore))
	}
	if b.IsNight {
		parts = append(parts, "Unusual night-time transaction")
	}
	if b.ASN.Risk >= 0.5 {
		parts = append(parts, fmt.Sprintf(
			"High ASN risk: %s network (country: %s)", b.ASN.Class, b.ASN.Country))
	}
	if b.ASN.ForeignFlag == 1 {
		country := b.ASN.Country
		if country == "" {
			country = "?"
		}
		parts = append(parts, fmt.Sprintf("Foreign IP origin: %s", country))
	}
	if b.ASN.Drift == 1 {
		parts = append(parts, "ASN drift: unusual network for this user")
	}
	if b.IPRotationFlag {
		parts = append(parts, fmt.Sprintf(
			"IP rotation: %d unique IPs in 24h", b.IPRotationCount))
	}
	if b.FixedAmountFlag {
		parts = append(parts, "Fixed-amount pattern: repeated identical transfers")
	}
	if b.CircadianAnomaly {
		parts = append(parts, "Circadian anomaly: transaction at unusual hour for this user")
	}
	if b.IdenticalityFlag {
		parts = append(parts, fmt.Sprintf(
			"TX identicality: %d identical-amount transfers to same receiver",
			b.IdenticalityCount))
	}

	v := res.vel
	if v.TxPerMin > 5 {
		parts = append(parts, fmt.Sprintf(
			"Velocity: %.1f tx/min in last window", v.TxPerMin))
	}
	if v.PassThroughRatio > e.feats.PassThroughRatio {
		parts = append(parts, "Rapid fund relay pattern")
	}

	if len(parts) == 0 {
		if fused >= e.risk.HighThreshold {
			parts = append(parts, "Multiple minor indicators combined above threshold")
		} else {
			return "No significant risk indicators"
		}
	}

	return strings.Join(parts, ". ") + "."
}
