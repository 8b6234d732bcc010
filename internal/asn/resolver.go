// Package asn classifies transaction source IPs by autonomous system and
// computes a composite network risk.
//
// Pipeline:
//  1. public-IPv4 constraint
//  2. ASN extraction (MMDB lookup)
//  3. origin-country filtering (IN vs foreign)
//  4. class assignment (mobile / broadband / enterprise / cloud / hosting)
//  5. ASN density      log(1 + accounts on ASN)
//  6. ASN drift        current ASN != historical mode
//  7. switching entropy
//  8. fused risk       0.4·base + 0.3·density + 0.2·drift + 0.2·foreign + 0.1·entropy
package asn

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/oschwald/maxminddb-golang"

	"github.com/fraudnet/backend/internal/graph"
)

// Class labels in priority order; mobile carriers are the baseline for
// retail payment traffic, hosting ranges are the outliers.
const (
	ClassMobileISP   = "MOBILE_ISP"
	ClassBroadband   = "BROADBAND"
	ClassEnterprise  = "ENTERPRISE"
	ClassIndianCloud = "INDIAN_CLOUD"
	ClassHosting     = "HOSTING"
	ClassUnknown     = "UNKNOWN"
	ClassForeign     = "FOREIGN"
)

var classBaseScores = map[string]float64{
	ClassMobileISP:   0.0,
	ClassBroadband:   0.1,
	ClassEnterprise:  0.3,
	ClassIndianCloud: 0.6,
	ClassHosting:     0.7,
	ClassUnknown:     0.5,
	ClassForeign:     0.8,
}

// Curated Indian ASN maps. Global providers (AWS, GCP, Azure) are left
// out on purpose: their registration country is US/IE/etc., so they hit
// the foreign path automatically.
var mobileISPASNs = map[int64]struct{}{
	55836: {}, 64049: {}, 58678: {}, 132524: {}, // Reliance Jio Infocomm
	45609: {}, 24560: {}, 9498: {}, // Bharti Airtel
	55644: {}, 38266: {}, // Vodafone Idea
	45271: {}, 9829: {}, // BSNL
	45820: {}, 17813: {}, // MTNL (Delhi / Mumbai)
	45514:  {}, // Bharti Hexacom
	136763: {}, // Jio 4G hotspot range
}

var broadbandASNs = map[int64]struct{}{
	17762: {}, 55577: {}, 24309: {}, // ACT Fibernet / Atria Convergence
	17488:  {}, // Hathway Cable Datacom
	18101:  {}, // Reliance Communications
	133982: {}, // Spectra / Asianet Broadband
	132335: {}, // Alliance Broadband
	10029: {}, 45528: {}, // Tikona Infinet
	134091: {}, // YOU Broadband
	133647: {}, // Gigatel Networks
	45194:  {}, // Siti Cable
	24186:  {}, // Reliance Broadband
	133661: {}, // Netplus Broadband
	45916:  {}, // Starter / HostGator India overlap
}

var enterpriseASNs = map[int64]struct{}{
	4755: {}, 6453: {}, // Tata Communications
	17439: {}, 9583: {}, // Sify Technologies
	10201:  {}, // PowerGrid ULDC-NR
	18209:  {}, // Tata Teleservices
	45117:  {}, // Gazon Communications
	55824:  {}, // NTT India Pvt Ltd
	132524: {}, // Jio enterprise segment
}

var indianCloudASNs = map[int64]struct{}{
	135929: {}, // Yotta Infrastructure
	133275: {}, // CtrlS Datacenters
	132116: {}, // Netmagic (NTT India DC)
	137687: {}, // JEPL IT Services
	58695:  {}, // Web Werks (also cloud hosting)
}

var hostingASNs = map[int64]struct{}{
	133296: {}, // Web Werks India
	45769:  {}, // Lightstorm
	135580: {}, // Cyfuture
	138835: {}, // Lucideus / SAFE Security
	59163:  {}, // MitraComm hosting
	46015:  {}, // Starter hosting India
	137194: {}, // DE-CIX India
}

// Keyword fallback when the ASN is not in the curated maps. Ordered:
// first match wins.
var orgKeywords = []struct {
	keyword string
	class   string
}{
	{"jio", ClassMobileISP},
	{"airtel", ClassMobileISP},
	{"bharti", ClassMobileISP},
	{"vodafone", ClassMobileISP},
	{"idea cellular", ClassMobileISP},
	{"bsnl", ClassMobileISP},
	{"mtnl", ClassMobileISP},
	{"act fibernet", ClassBroadband},
	{"atria convergence", ClassBroadband},
	{"hathway", ClassBroadband},
	{"spectra", ClassBroadband},
	{"tikona", ClassBroadband},
	{"you broadband", ClassBroadband},
	{"alliance broadband", ClassBroadband},
	{"netplus", ClassBroadband},
	{"gigatel", ClassBroadband},
	{"tata communications", ClassEnterprise},
	{"sify", ClassEnterprise},
	{"powergrid", ClassEnterprise},
	{"yotta", ClassIndianCloud},
	{"ctrls", ClassIndianCloud},
	{"netmagic", ClassIndianCloud},
	{"web werks", ClassHosting},
	{"cyfuture", ClassHosting},
	{"lightstorm", ClassHosting},
	{"hostinger india", ClassHosting},
	{"hosting", ClassHosting},
	{"datacenter", ClassHosting},
	{"data center", ClassHosting},
	{"data centre", ClassHosting},
}

// Resolution is the outcome of steps 1-4.
type Resolution struct {
	ASN         int64
	OrgName     string
	Country     string
	IsIndian    bool
	ForeignFlag int
	Class       string
	BaseRisk    float64
	Valid       bool
}

// Risk is the full 8-step outcome. Scaled maps [0,1] onto the 0-20
// points the behavioural extractor assigns to network risk.
type Risk struct {
	Resolution
	Density     float64
	DensityNorm float64
	Drift       int
	Entropy     float64
	EntropyNorm float64
	Risk        float64
	Scaled      float64
}

// HistorySource provides the graph reads behind density, drift and
// entropy. *graph.Neo4jStore satisfies it.
type HistorySource interface {
	ASNDensity(ctx context.Context, asn int64) (int64, error)
	UserASNHistory(ctx context.Context, userID string) ([]graph.ASNUsage, error)
}

type mmdbRecord struct {
	ASN          uint32 `maxminddb:"asn"`
	Organization struct {
		Name    string `maxminddb:"name"`
		Country string `maxminddb:"country"`
	} `maxminddb:"organization"`
}

// Resolver owns the memory-mapped ASN database. A missing or unreadable
// database disables resolution (every lookup returns the zero result)
// without affecting the rest of the pipeline.
type Resolver struct {
	reader  *maxminddb.Reader
	history HistorySource
	logger  *slog.Logger
}

func NewResolver(mmdbPath string, history HistorySource, logger *slog.Logger) *Resolver {
	r := &Resolver{history: history, logger: logger}
	if mmdbPath == "" {
		logger.Warn("no MMDB path configured, ASN intelligence disabled")
		return r
	}
	if _, err := os.Stat(mmdbPath); err != nil {
		logger.Warn("MMDB file not found, ASN intelligence disabled", "path", mmdbPath)
		return r
	}
	reader, err := maxminddb.Open(mmdbPath)
	if err != nil {
		logger.Error("failed to open MMDB, ASN intelligence disabled", "path", mmdbPath, "error", err)
		return r
	}
	r.reader = reader
	logger.Info("MMDB loaded", "path", mmdbPath)
	return r
}

func (r *Resolver) Close() {
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}
}

// Enabled reports whether an ASN database is loaded.
func (r *Resolver) Enabled() bool { return r.reader != nil }

func isValidPublicIPv4(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return false
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return false
	}
	return true
}

func classifyIndianASN(asn int64, orgName string) string {
	if _, ok := mobileISPASNs[asn]; ok {
		return ClassMobileISP
	}
	if _, ok := broadbandASNs[asn]; ok {
		return ClassBroadband
	}
	if _, ok := enterpriseASNs[asn]; ok {
		return ClassEnterprise
	}
	if _, ok := indianCloudASNs[asn]; ok {
		return ClassIndianCloud
	}
	if _, ok := hostingASNs[asn]; ok {
		return ClassHosting
	}
	lower := strings.ToLower(orgName)
	for _, kw := range orgKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.class
		}
	}
	return ClassUnknown
}

// Resolve runs steps 1-4 against the MMDB.
func (r *Resolver) Resolve(ipAddress string) Resolution {
	null := Resolution{Class: ClassUnknown}
	if !isValidPublicIPv4(ipAddress) {
		return null
	}
	if r.reader == nil {
		return null
	}

	var rec mmdbRecord
	if err := r.reader.Lookup(net.ParseIP(ipAddress), &rec); err != nil || rec.ASN == 0 && rec.Organization.Name == "" {
		return null
	}

	country := strings.ToUpper(rec.Organization.Country)
	isIndian := country == "IN"
	foreignFlag := 1
	if isIndian {
		foreignFlag = 0
	}

	class := ClassForeign
	if isIndian {
		class = classifyIndianASN(int64(rec.ASN), rec.Organization.Name)
	}

	return Resolution{
		ASN:         int64(rec.ASN),
		OrgName:     rec.Organization.Name,
		Country:     country,
		IsIndian:    isIndian,
		ForeignFlag: foreignFlag,
		Class:       class,
		BaseRisk:    classBaseScores[class],
		Valid:       true,
	}
}

// ComputeRisk runs the full pipeline including the graph-backed density,
// drift and entropy terms. History failures degrade individual terms to
// zero rather than failing the transaction.
func (r *Resolver) ComputeRisk(ctx context.Context, senderID, ipAddress string) Risk {
	info := r.Resolve(ipAddress)
	if !info.Valid {
		return Risk{Resolution: info}
	}

	var density float64
	if info.ASN > 0 && r.history != nil {
		if count, err := r.history.ASNDensity(ctx, info.ASN); err == nil {
			density = math.Log1p(float64(count))
		} else {
			r.logger.Debug("asn density lookup failed", "asn", info.ASN, "error", err)
		}
	}

	drift := 0
	entropy := 0.0
	if r.history != nil {
		if rows, err := r.history.UserASNHistory(ctx, senderID); err == nil && len(rows) > 0 {
			var total int64
			modeASN, modeCount := int64(0), int64(0)
			for _, row := range rows {
				if row.ASN <= 0 {
					continue
				}
				count := row.UsageCount
				if count < 1 {
					count = 1
				}
				total += count
				if count > modeCount {
					modeASN, modeCount = row.ASN, count
				}
			}
			if total > 0 {
				if info.ASN != modeASN {
					drift = 1
				}
				for _, row := range rows {
					if row.ASN <= 0 {
						continue
					}
					count := row.UsageCount
					if count < 1 {
						count = 1
					}
					p := float64(count) / float64(total)
					entropy -= p * math.Log(p)
				}
			}
		} else if err != nil {
			r.logger.Debug("asn history lookup failed", "user", senderID, "error", err)
		}
	}

	densityNorm := math.Min(density/math.Log1p(1000), 1.0)
	entropyNorm := math.Min(entropy/2.5, 1.0)

	raw := 0.4*info.BaseRisk +
		0.3*densityNorm +
		0.2*float64(drift) +
		0.2*float64(info.ForeignFlag) +
		0.1*entropyNorm
	risk := math.Min(math.Max(raw, 0), 1)

	return Risk{
		Resolution:  info,
		Density:     density,
		DensityNorm: densityNorm,
		Drift:       drift,
		Entropy:     entropy,
		EntropyNorm: entropyNorm,
		Risk:        risk,
		Scaled:      risk * 20.0,
	}
}
