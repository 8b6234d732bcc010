package features

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
)

type fakeDeviceReader struct {
	info       *graph.DeviceInfo
	prop       *graph.DevicePropagation
	known      []string
	users24h   int64
}

func (f *fakeDeviceReader) DeviceInfo(_ context.Context, _ string) (*graph.DeviceInfo, error) {
	return f.info, nil
}
func (f *fakeDeviceReader) DeviceRiskPropagation(_ context.Context, _ string) (*graph.DevicePropagation, error) {
	return f.prop, nil
}
func (f *fakeDeviceReader) UserDeviceHistory(_ context.Context, _ string) ([]string, error) {
	return f.known, nil
}
func (f *fakeDeviceReader) DeviceUsers24h(_ context.Context, _ string) (int64, error) {
	return f.users24h, nil
}

func newDevice(r DeviceReader) *DeviceRiskExtractor {
	return NewDeviceRiskExtractor(r, config.Default().Features, slog.Default())
}

func TestDeviceUnseen(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_x", SenderID: "user_1", Amount: 500,
	})
	require.NoError(t, err)
	assert.True(t, res.IsNewDevice)
	assert.InDelta(t, 12, res.Risk, 1e-9)
	assert.Equal(t, []string{"New Device (First Appearance)"}, res.Flags)
}

func TestDeviceUnseenHighAmountMPIN(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_x", SenderID: "user_1", Amount: 15000, CredentialSub: "MPIN",
	})
	require.NoError(t, err)
	assert.True(t, res.NewDeviceHighPIN)
	assert.InDelta(t, 27, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "New Device + High Amount + MPIN")
}

func TestDeviceSharedAcrossAccounts(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{
		info:  &graph.DeviceInfo{DeviceID: "dev_a", AccountCount: 5, OS: "Android 14"},
		known: []string{"dev_a"},
	})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_a", SenderID: "user_1", Amount: 100, DeviceOS: "Android 14",
	})
	require.NoError(t, err)
	assert.False(t, res.IsNewDevice)
	assert.Equal(t, int64(5), res.AccountCount)
	assert.InDelta(t, 40, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "Shared Device: 5 accounts")
}

func TestDeviceSimSwapWindow(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{
		info:     &graph.DeviceInfo{DeviceID: "dev_a", AccountCount: 1},
		known:    []string{"dev_a"},
		users24h: 4,
	})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_a", SenderID: "user_1", Amount: 100,
	})
	require.NoError(t, err)
	assert.True(t, res.MultiUserFlag)
	assert.InDelta(t, 25, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "SIM-Swap: 4 users on device in 24h")
}

func TestDeviceDriftSignals(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{
		info: &graph.DeviceInfo{
			DeviceID: "dev_a", AccountCount: 1,
			OS: "Android 14", CapabilityMask: "1111",
		},
		known: []string{"dev_a"},
	})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_a", SenderID: "user_1", Amount: 100,
		DeviceOS: "iOS 17.4", CapabilityMask: "1001",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CapMaskAnomaly)
	// OS family change 5 + mask penalty capped at 5.
	assert.InDelta(t, 10, res.DriftScore, 1e-9)
	assert.Contains(t, res.Flags, "Capability Mask Changed (Hamming=2)")
}

func TestDeviceOSAnomaly(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{
		info:  &graph.DeviceInfo{DeviceID: "dev_a", AccountCount: 1},
		known: []string{"dev_a"},
	})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_a", SenderID: "user_1", Amount: 100, DeviceOS: "KaiOS 3.0",
	})
	require.NoError(t, err)
	assert.InDelta(t, 10, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "Unsupported Device OS: KaiOS 3.0")
}

func TestDeviceRiskPropagation(t *testing.T) {
	ext := newDevice(&fakeDeviceReader{
		info:  &graph.DeviceInfo{DeviceID: "dev_a", AccountCount: 1},
		prop:  &graph.DevicePropagation{DeviceRiskScore: 50, AvgUserRisk: 45, MaxUserRisk: 85},
		known: []string{"dev_a"},
	})
	res, err := ext.Compute(context.Background(), DeviceInput{
		DeviceID: "dev_a", SenderID: "user_1", Amount: 100,
	})
	require.NoError(t, err)
	// Propagation 12.5 + high-risk-link bonus 10.
	assert.InDelta(t, 22.5, res.Risk, 1e-9)
	assert.Contains(t, res.Flags, "Device Linked to High-Risk User")
}
