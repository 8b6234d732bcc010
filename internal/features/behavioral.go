package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fraudnet/backend/internal/asn"
	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// BehavioralReader is the graph surface the behavioural extractor needs.
type BehavioralReader interface {
	UserTxHistory(ctx context.Context, userID string, limit int) ([]graph.TxSample, error)
	UserProfile(ctx context.Context, userID string) (*graph.UserProfile, error)
	IPRotationCount(ctx context.Context, userID string) (int64, error)
	RecentAmounts(ctx context.Context, userID string, windowHours int) ([]float64, error)
	HourDistribution(ctx context.Context, userID string) (map[int64]int64, error)
	IdenticalTxCount(ctx context.Context, senderID, receiverID string, amount float64, windowHours int) (int64, error)
}

// NetworkScorer produces the composite ASN risk for a source IP.
// *asn.Resolver satisfies it.
type NetworkScorer interface {
	ComputeRisk(ctx context.Context, senderID, ipAddress string) asn.Risk
}

// BehavioralInput is the per-transaction slice the extractor consumes.
type BehavioralInput struct {
	SenderID    string
	ReceiverID  string
	Amount      float64
	Timestamp   time.Time
	SenderLat   float64
	SenderLon   float64
	IPAddress   string
	IsNewDevice bool
}

// BehavioralResult carries the sub-score, flags and the intermediate
// signals the fusion and mule stages consume.
type BehavioralResult struct {
	Risk  float64
	Flags []string

	AmountZScore     float64
	RollingMean      float64
	RollingStd       float64
	TimeSinceLastSec float64
	VelocityScore    float64
	GeoDistanceKm    float64
	ImpossibleTravel bool
	IsNight          bool
	SpikeFlag        bool
	DormantBurst     bool
	IQROutlier       bool

	ASN asn.Risk

	IPRotationCount   int64
	IPRotationFlag    bool
	FixedAmountFlag   bool
	CircadianAnomaly  bool
	CircadianScore    float64
	IdenticalityFlag  bool
	IdenticalityCount int64
}

// BehavioralExtractor scores amount, temporal, geo and network anomalies
// against the sender's recent history.
type BehavioralExtractor struct {
	reader  BehavioralReader
	network NetworkScorer
	cfg     config.FeatureConfig
	logger  *slog.Logger
}

func NewBehavioralExtractor(reader BehavioralReader, network NetworkScorer, cfg config.FeatureConfig, logger *slog.Logger) *BehavioralExtractor {
	return &BehavioralExtractor{reader: reader, network: network, cfg: cfg, logger: logger}
}

func (e *BehavioralExtractor) Compute(ctx context.Context, in BehavioralInput) (*BehavioralResult, error) {
	history, err := e.reader.UserTxHistory(ctx, in.SenderID, e.cfg.BehavioralHistoryCount)
	if err != nil {
		return nil, fmt.Errorf("behavioral history: %w", err)
	}
	profile, err := e.reader.UserProfile(ctx, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("behavioral profile: %w", err)
	}

	var amounts []float64
	var timestamps []time.Time
	for _, h := range history {
		if h.Amount != 0 {
			amounts = append(amounts, h.Amount)
		}
		if !h.Timestamp.IsZero() {
			timestamps = append(timestamps, h.Timestamp)
		}
	}

	res := &BehavioralResult{}

	// Amount anomaly: z-score against the rolling window, falling back
	// to the profile stats when history is thin.
	var profileMean, profileStd float64
	var isDormant bool
	if profile != nil {
		profileMean = profile.AvgTxAmount
		profileStd = profile.StdTxAmount
		isDormant = profile.IsDormant
	}
	switch {
	case len(amounts) >= 2:
		m := mean(amounts)
		sd := stddev(amounts)
		if sd == 0 {
			sd = 1.0
		}
		res.AmountZScore = (in.Amount - m) / sd
		res.RollingMean, res.RollingStd = m, sd
		res.SpikeFlag = in.Amount > m+3*sd
	case profileMean > 0:
		sd := profileStd
		if sd <= 0 {
			sd = profileMean * 0.5
		}
		res.AmountZScore = (in.Amount - profileMean) / sd
		res.RollingMean, res.RollingStd = profileMean, sd
		res.SpikeFlag = in.Amount > profileMean+3*sd
	default:
		res.RollingMean = in.Amount
	}

	res.DormantBurst = isDormant && profileMean > 0 && in.Amount > profileMean

	// Network intelligence. IP-less records skip the whole branch.
	if in.IPAddress != "" && e.network != nil {
		res.ASN = e.network.ComputeRisk(ctx, in.SenderID, in.IPAddress)
	}

	if len(timestamps) > 0 {
		res.TimeSinceLastSec = math.Max(in.Timestamp.Sub(timestamps[0]).Seconds(), 0)
	}

	recentCount := 0
	for _, ts := range timestamps {
		if in.Timestamp.Sub(ts).Seconds() <= float64(e.cfg.VelocityWindowSec) {
			recentCount++
		}
	}
	burstThreshold := e.cfg.BurstTxThreshold
	if burstThreshold < 1 {
		burstThreshold = 1
	}
	res.VelocityScore = math.Min(float64(recentCount)/float64(burstThreshold), 1.0)

	hour := in.Timestamp.Hour()
	res.IsNight = hour >= e.cfg.NightStartHour || hour <= e.cfg.NightEndHour

	if in.SenderLat != 0 && in.SenderLon != 0 && profile != nil && profile.HasLocation &&
		profile.LastLat != 0 && profile.LastLon != 0 {
		res.GeoDistanceKm = haversineKm(profile.LastLat, profile.LastLon, in.SenderLat, in.SenderLon)
		if res.TimeSinceLastSec > 0 {
			speedKmh := res.GeoDistanceKm / (res.TimeSinceLastSec / 3600)
			res.ImpossibleTravel = speedKmh > e.cfg.ImpossibleTravelKmh
		}
	}

	if len(amounts) >= 4 {
		res.IQROutlier = iqrOutlier(in.Amount, amounts)
	}

	// Secondary reads degrade to zero signal on failure; a missed flag
	// beats a failed transaction.
	if count, err := e.reader.IPRotationCount(ctx, in.SenderID); err == nil {
		res.IPRotationCount = count
		res.IPRotationFlag = count >= int64(e.cfg.IPRotationMaxUnique)
	} else {
		e.logger.Debug("ip rotation read failed", "user", in.SenderID, "error", err)
	}

	if recentAmts, err := e.reader.RecentAmounts(ctx, in.SenderID, e.cfg.IPRotationWindowHours); err == nil {
		res.FixedAmountFlag = fixedAmountPattern(recentAmts, in.Amount,
			e.cfg.FixedAmountTolerance, e.cfg.FixedAmountMinCount)
	} else {
		e.logger.Debug("recent amounts read failed", "user", in.SenderID, "error", err)
	}

	if hourCounts, err := e.reader.HourDistribution(ctx, in.SenderID); err == nil {
		if len(hourCounts) >= 3 {
			var total int64
			for _, c := range hourCounts {
				total += c
			}
			if total >= 10 && float64(hourCounts[int64(hour)])/float64(total) < 0.02 {
				res.CircadianAnomaly = true
				res.CircadianScore = e.cfg.CircadianPenalty
				if in.IsNewDevice {
					res.CircadianScore = e.cfg.CircadianNewDevice
				}
			}
		}
	} else {
		e.logger.Debug("hour distribution read failed", "user", in.SenderID, "error", err)
	}

	if in.ReceiverID != "" {
		if count, err := e.reader.IdenticalTxCount(ctx, in.SenderID, in.ReceiverID,
			in.Amount, e.cfg.IdenticalityWindowHours); err == nil {
			res.IdenticalityCount = count
			res.IdenticalityFlag = count >= int64(e.cfg.IdenticalityMinCount)
		} else {
			e.logger.Debug("identicality read failed", "user", in.SenderID, "error", err)
		}
	}

	risk := math.Min(math.Abs(res.AmountZScore)*10, 30)
	risk += res.VelocityScore * 20
	if res.ImpossibleTravel {
		risk += 20
	}
	if res.IsNight {
		risk += 5
	}
	if res.IQROutlier {
		risk += 15
	}
	if res.SpikeFlag {
		risk += 10
	}
	if res.DormantBurst {
		risk += 15
	}
	risk += res.ASN.Scaled
	if res.IPRotationFlag {
		risk += e.cfg.IPRotationPenalty
	}
	if res.FixedAmountFlag {
		risk += e.cfg.FixedAmountPenalty
	}
	risk += res.CircadianScore
	if res.IdenticalityFlag {
		risk += e.cfg.IdenticalityPenalty
	}
	res.Risk = math.Min(risk, 100)

	if res.SpikeFlag {
		res.Flags = append(res.Flags, fmt.Sprintf("Amount spike: %.1fσ above baseline", res.AmountZScore))
	}
	if res.DormantBurst {
		res.Flags = append(res.Flags, "Dormant Burst: tx amount exceeds historical avg")
	}
	if res.ImpossibleTravel {
		res.Flags = append(res.Flags, fmt.Sprintf("Impossible travel: %.0fkm", res.GeoDistanceKm))
	}
	if res.IsNight {
		res.Flags = append(res.Flags, "Night-time transaction")
	}
	if res.ASN.Risk >= 0.5 {
		res.Flags = append(res.Flags, fmt.Sprintf("ASN Risk (%s): score=%.2f", res.ASN.Class, res.ASN.Risk))
	}
	if res.ASN.ForeignFlag == 1 {
		org, country := res.ASN.OrgName, res.ASN.Country
		if org == "" {
			org = "?"
		}
		if country == "" {
			country = "?"
		}
		res.Flags = append(res.Flags, fmt.Sprintf("Foreign IP: %s (%s)", org, country))
	}
	if res.ASN.Drift == 1 {
		res.Flags = append(res.Flags, "ASN Drift: IP network differs from user's usual pattern")
	}
	if res.IPRotationFlag {
		res.Flags = append(res.Flags, fmt.Sprintf("IP Rotation: %d unique IPs in 24h", res.IPRotationCount))
	}
	if res.FixedAmountFlag {
		res.Flags = append(res.Flags, fmt.Sprintf("Fixed Amount Pattern: repeated ₹%.2f transfers", in.Amount))
	}
	if res.CircadianAnomaly {
		res.Flags = append(res.Flags, fmt.Sprintf("Circadian Anomaly: tx at hour %d is unusual for user", hour))
	}
	if res.IdenticalityFlag {
		res.Flags = append(res.Flags, fmt.Sprintf(
			"TX Identicality: %d identical amount transfers to same receiver in %dh",
			res.IdenticalityCount, e.cfg.IdenticalityWindowHours))
	}

	return res, nil
}

func fixedAmountPattern(amounts []float64, current, tolerance float64, minCount int) bool {
	if len(amounts) < minCount {
		return false
	}
	denom := math.Max(current, 1)
	count := 0
	for _, a := range amounts {
		if math.Abs(a-current)/denom <= tolerance {
			count++
		}
	}
	return count >= minCount
}
