package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

// DeviceReader is the graph surface the device extractor needs.
type DeviceReader interface {
	DeviceInfo(ctx context.Context, deviceID string) (*graph.DeviceInfo, error)
	DeviceRiskPropagation(ctx context.Context, deviceID string) (*graph.DevicePropagation, error)
	UserDeviceHistory(ctx context.Context, userID string) ([]string, error)
	DeviceUsers24h(ctx context.Context, deviceID string) (int64, error)
}

// DeviceInput is the device slice of a transaction.
type DeviceInput struct {
	DeviceID       string
	SenderID       string
	Amount         float64
	AppVersion     string
	CapabilityMask string
	DeviceOS       string
	CredentialSub  string
}

// DeviceResult carries the sub-score plus the signals that feed the mule
// accumulator and the behavioural circadian compound.
type DeviceResult struct {
	Risk  float64
	Flags []string

	AccountCount     int64
	AvgUserRisk      float64
	MaxUserRisk      float64
	IsNewDevice      bool
	CapMaskAnomaly   int
	NewDeviceHighPIN bool
	MultiUserFlag    bool
	MultiUserCount   int64
	DriftScore       float64
}

// DeviceRiskExtractor evaluates shared-device, drift, SIM-swap and
// new-device compound signals.
type DeviceRiskExtractor struct {
	reader DeviceReader
	cfg    config.FeatureConfig
	logger *slog.Logger
}

func NewDeviceRiskExtractor(reader DeviceReader, cfg config.FeatureConfig, logger *slog.Logger) *DeviceRiskExtractor {
	return &DeviceRiskExtractor{reader: reader, cfg: cfg, logger: logger}
}

func (e *DeviceRiskExtractor) Compute(ctx context.Context, in DeviceInput) (*DeviceResult, error) {
	info, err := e.reader.DeviceInfo(ctx, in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	if info == nil {
		return e.scoreUnseenDevice(in), nil
	}

	accountCount := info.AccountCount
	if accountCount < 1 {
		accountCount = 1
	}
	storedOS := strings.TrimSpace(info.OS)
	storedMask := info.CapabilityMask

	knownDevices, err := e.reader.UserDeviceHistory(ctx, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	isNewDevice := true
	for _, d := range knownDevices {
		if d == in.DeviceID {
			isNewDevice = false
			break
		}
	}

	var deviceRiskScore, avgUserRisk, maxUserRisk float64
	if prop, err := e.reader.DeviceRiskPropagation(ctx, in.DeviceID); err != nil {
		return nil, fmt.Errorf("device propagation: %w", err)
	} else if prop != nil {
		deviceRiskScore = prop.DeviceRiskScore
		avgUserRisk = prop.AvgUserRisk
		maxUserRisk = prop.MaxUserRisk
	}

	multiUserCount, err := e.reader.DeviceUsers24h(ctx, in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("device users 24h: %w", err)
	}
	multiUserFlag := multiUserCount > int64(e.cfg.DeviceMultiUserThreshold)

	var multiAccountScore float64
	switch {
	case accountCount >= int64(e.cfg.DeviceAccountThreshold):
		multiAccountScore = 40
	case accountCount >= 3:
		multiAccountScore = 25
	case accountCount >= 2:
		multiAccountScore = 10
	}

	propagationScore := math.Min(deviceRiskScore/100, 1) * 25

	var highRiskBonus float64
	if maxUserRisk > 80 {
		highRiskBonus = 10
	}

	var osAnomalyScore float64
	effectiveOS := in.DeviceOS
	if effectiveOS == "" {
		effectiveOS = storedOS
	}
	if effectiveOS != "" {
		lc := strings.ToLower(effectiveOS)
		if !strings.HasPrefix(lc, "android") && !strings.HasPrefix(lc, "ios") {
			osAnomalyScore = 10
		}
	}

	var driftScore float64
	var driftFlags []string
	if storedOS != "" && in.DeviceOS != "" {
		storedFamily := firstToken(strings.ToLower(storedOS))
		currentFamily := firstToken(strings.ToLower(in.DeviceOS))
		if storedFamily != "" && currentFamily != "" && storedFamily != currentFamily {
			driftScore += 5
			driftFlags = append(driftFlags,
				fmt.Sprintf("OS family changed: %s → %s", storedOS, in.DeviceOS))
		}
	}

	capMaskAnomaly := 0
	if in.CapabilityMask != "" && storedMask != "" && in.CapabilityMask != storedMask {
		capMaskAnomaly = hammingDistance(in.CapabilityMask, storedMask)
		penalty := math.Min(float64(capMaskAnomaly)*e.cfg.CapabilityMaskWeight*0.3, 5)
		driftScore += penalty
		driftFlags = append(driftFlags,
			fmt.Sprintf("Capability mask changed: %s → %s (Hamming=%d)",
				storedMask, in.CapabilityMask, capMaskAnomaly))
	}
	driftScore = math.Min(driftScore, 15)

	var newDeviceScore float64
	if isNewDevice {
		newDeviceScore = e.cfg.NewDevicePenalty
	}

	var simSwapScore float64
	if multiUserFlag {
		simSwapScore = e.cfg.DeviceMultiUserPenalty
	}

	var compoundScore float64
	if isNewDevice && in.Amount >= e.cfg.NewDeviceHighAmount &&
		strings.ToUpper(in.CredentialSub) == "MPIN" {
		compoundScore = 15
	}

	risk := multiAccountScore + propagationScore + highRiskBonus + osAnomalyScore +
		driftScore + newDeviceScore + simSwapScore + compoundScore
	risk = math.Min(risk, 100)

	var flags []string
	if accountCount >= int64(e.cfg.DeviceAccountThreshold) {
		flags = append(flags, fmt.Sprintf("Shared Device: %d accounts", accountCount))
	}
	if maxUserRisk > 80 {
		flags = append(flags, "Device Linked to High-Risk User")
	}
	if osAnomalyScore > 0 {
		flags = append(flags, fmt.Sprintf("Unsupported Device OS: %s", effectiveOS))
	}
	if isNewDevice {
		flags = append(flags, "New Device for User")
	}
	if capMaskAnomaly > 0 {
		flags = append(flags, fmt.Sprintf("Capability Mask Changed (Hamming=%d)", capMaskAnomaly))
	}
	if compoundScore > 0 {
		flags = append(flags, "New Device + High Amount + MPIN")
	}
	if multiUserFlag {
		flags = append(flags, fmt.Sprintf("SIM-Swap: %d users on device in 24h", multiUserCount))
	}
	flags = append(flags, driftFlags...)

	return &DeviceResult{
		Risk:             risk,
		Flags:            flags,
		AccountCount:     accountCount,
		AvgUserRisk:      avgUserRisk,
		MaxUserRisk:      maxUserRisk,
		IsNewDevice:      isNewDevice,
		CapMaskAnomaly:   capMaskAnomaly,
		NewDeviceHighPIN: compoundScore > 0,
		MultiUserFlag:    multiUserFlag,
		MultiUserCount:   multiUserCount,
		DriftScore:       driftScore,
	}, nil
}

// scoreUnseenDevice handles a device with no graph node at all.
func (e *DeviceRiskExtractor) scoreUnseenDevice(in DeviceInput) *DeviceResult {
	risk := e.cfg.NewDevicePenalty
	flags := []string{"New Device (First Appearance)"}

	var compound float64
	if in.Amount >= e.cfg.NewDeviceHighAmount && strings.ToUpper(in.CredentialSub) == "MPIN" {
		compound = 15
		flags = append(flags, "New Device + High Amount + MPIN")
	}

	return &DeviceResult{
		Risk:             math.Min(risk+compound, 100),
		Flags:            flags,
		IsNewDevice:      true,
		NewDeviceHighPIN: compound > 0,
	}
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
