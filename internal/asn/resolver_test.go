package asn

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidPublicIPv4(t *testing.T) {
	cases := []struct {
		ip    string
		valid bool
	}{
		{"49.36.12.7", true},
		{"8.8.8.8", true},
		{"10.0.0.1", false},
		{"172.16.4.2", false},
		{"192.168.1.1", false},
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"169.254.1.1", false},
		{"224.0.0.1", false},
		{"2001:db8::1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.ip, func(t *testing.T) {
			assert.Equal(t, tc.valid, isValidPublicIPv4(tc.ip))
		})
	}
}

func TestClassifyIndianASN(t *testing.T) {
	// Curated ASN maps take priority over org keywords.
	assert.Equal(t, ClassMobileISP, classifyIndianASN(55836, "Some Hosting Pvt Ltd"))
	assert.Equal(t, ClassBroadband, classifyIndianASN(17488, ""))
	assert.Equal(t, ClassEnterprise, classifyIndianASN(4755, ""))
	assert.Equal(t, ClassIndianCloud, classifyIndianASN(135929, ""))
	assert.Equal(t, ClassHosting, classifyIndianASN(133296, ""))

	// Keyword fallback, first match wins.
	assert.Equal(t, ClassMobileISP, classifyIndianASN(999999, "Reliance Jio Infocomm Limited"))
	assert.Equal(t, ClassBroadband, classifyIndianASN(999999, "Hathway Cable and Datacenter"))
	assert.Equal(t, ClassHosting, classifyIndianASN(999999, "Acme Data Centre Services"))
	assert.Equal(t, ClassUnknown, classifyIndianASN(999999, "Unheard Of Networks"))
}

func TestClassBaseScoreOrdering(t *testing.T) {
	assert.Less(t, classBaseScores[ClassMobileISP], classBaseScores[ClassBroadband])
	assert.Less(t, classBaseScores[ClassBroadband], classBaseScores[ClassEnterprise])
	assert.Less(t, classBaseScores[ClassEnterprise], classBaseScores[ClassIndianCloud])
	assert.Less(t, classBaseScores[ClassIndianCloud], classBaseScores[ClassHosting])
	assert.Less(t, classBaseScores[ClassHosting], classBaseScores[ClassForeign])
}

func TestResolverDisabledWithoutDatabase(t *testing.T) {
	r := NewResolver("testdata/does-not-exist.mmdb", nil, slog.Default())
	assert.False(t, r.Enabled())

	res := r.Resolve("49.36.12.7")
	assert.False(t, res.Valid)
	assert.Equal(t, ClassUnknown, res.Class)

	risk := r.ComputeRisk(context.Background(), "user_1", "49.36.12.7")
	assert.False(t, risk.Valid)
	assert.Equal(t, 0.0, risk.Risk)
	assert.Equal(t, 0.0, risk.Scaled)
}

func TestResolverRejectsPrivateIP(t *testing.T) {
	r := NewResolver("", nil, slog.Default())
	res := r.Resolve("192.168.0.10")
	assert.False(t, res.Valid)
}
