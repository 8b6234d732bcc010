package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fraudnet/backend/internal/models"
)

// ErrNotFound reports a MATCH that bound no rows where one was required.
var ErrNotFound = errors.New("graph: not found")

// TransientError marks failures worth retrying: connectivity drops,
// leader switches, deadlocks.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("graph: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StoreError marks non-retryable store failures (syntax, constraint,
// type mismatch).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("graph: store failure in %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TxSample is one historical outbound transaction.
type TxSample struct {
	Amount    float64
	Timestamp time.Time
}

// UserProfile is the rolling per-account statistics row maintained by the
// batch analyzer.
type UserProfile struct {
	AvgTxAmount  float64
	StdTxAmount  float64
	TxCount      int64
	TotalOutflow float64
	LastActive   time.Time
	IsDormant    bool
	RiskScore    float64
	LastLat      float64
	LastLon      float64
	HasLocation  bool
}

// DormantWakeup carries the single-query dormancy evaluation.
type DormantWakeup struct {
	IsDormant     bool
	TxCount       int64
	AvgTxAmount   float64
	DaysSlept     float64
	RecentTxCount int64
	RecentVolume  float64
	IsFirstStrike bool
	IsVolumeSpike bool
}

// FlowWindow aggregates inflow/outflow over a recent window.
type FlowWindow struct {
	Inflow       float64
	Outflow      float64
	InflowCount  int64
	OutflowCount int64
}

// DeviceInfo describes a device node and its account fan-out.
type DeviceInfo struct {
	DeviceID       string
	OS             string
	CapabilityMask string
	DeviceScore    float64
	AccountCount   int64
}

// DevicePropagation carries risk propagated onto a device from its users.
type DevicePropagation struct {
	AvgUserRisk     float64
	MaxUserRisk     float64
	UserCount       int64
	DeviceRiskScore float64
}

// GraphFeatures is the per-user topology row written by the analyzer.
type GraphFeatures struct {
	InDegree        int64
	OutDegree       int64
	CommunityID     string
	HasCommunity    bool
	Betweenness     float64
	PageRank        float64
	ClusteringCoeff float64
	AvgNeighborRisk float64
}

// CommunityStats summarises one community's membership.
type CommunityStats struct {
	MemberCount   int64
	AvgRisk       float64
	HighRiskCount int64
}

// VelocityWindow aggregates send/receive activity over a short window.
type VelocityWindow struct {
	SendCount     int64
	ReceiveCount  int64
	TotalSent     float64
	TotalReceived float64
	Ratio         float64
	TotalActivity int64
}

// ASNUsage is one (asn, count) row from a user's access history.
type ASNUsage struct {
	ASN        int64
	UsageCount int64
}

// IPRecord is the enriched IP node payload written after ASN resolution.
type IPRecord struct {
	UserID     string
	IPAddress  string
	GeoLat     float64
	GeoLon     float64
	City       string
	Country    string
	ASN        int64
	ASNType    string
	ASNOrg     string
	ASNCountry string
}

// FraudIsland is a dense high-risk community.
type FraudIsland struct {
	ClusterID       string   `json:"cluster_id"`
	MemberCount     int64    `json:"member_count"`
	AvgRisk         float64  `json:"avg_risk"`
	MemberIDs       []string `json:"member_ids"`
	HighRiskMembers int64    `json:"high_risk_members"`
}

// MoneyRouter is a high-betweenness intermediary.
type MoneyRouter struct {
	UserID      string  `json:"user_id"`
	Betweenness float64 `json:"betweenness"`
	RiskScore   float64 `json:"risk_score"`
}

// CircularFlow is a three-node transfer ring.
type CircularFlow struct {
	NodeA     string  `json:"node_a"`
	NodeB     string  `json:"node_b"`
	NodeC     string  `json:"node_c"`
	TotalFlow float64 `json:"total_circular_flow"`
}

// RapidChain is a multi-hop relay completed with sub-5-minute hop gaps.
type RapidChain struct {
	Start     string   `json:"chain_start"`
	End       string   `json:"chain_end"`
	Nodes     []string `json:"chain_nodes"`
	Depth     int64    `json:"depth"`
	TotalFlow float64  `json:"total_flow"`
}

// StarHub is a fan-in collector, fan-out distributor or relay hub.
type StarHub struct {
	UserID    string `json:"user_id"`
	InDegree  int64  `json:"in_degree"`
	OutDegree int64  `json:"out_degree"`
	HubType   string `json:"hub_type"`
}

// RelayMule forwards most of what it receives within minutes.
type RelayMule struct {
	UserID     string  `json:"user_id"`
	Inflow10m  float64 `json:"total_inflow_10m"`
	Outflow10m float64 `json:"total_outflow_10m"`
	FlowRatio  float64 `json:"flow_ratio"`
}

// NetworkEdge is one row of the fraud-network visualisation export.
type NetworkEdge struct {
	SourceID      string  `json:"source_id"`
	SourceRisk    float64 `json:"source_risk"`
	SourceCluster string  `json:"source_cluster,omitempty"`
	TargetID      string  `json:"target_id,omitempty"`
	TargetRisk    float64 `json:"target_risk"`
	TargetCluster string  `json:"target_cluster,omitempty"`
	EdgeAmount    float64 `json:"edge_amount"`
	EdgeTxCount   int64   `json:"edge_tx_count"`
}

// SharedDevice is one device used by two or more accounts.
type SharedDevice struct {
	DeviceID    string       `json:"device_id"`
	SharedCount int64        `json:"shared_count"`
	Users       []DeviceUser `json:"users"`
	DeviceScore float64      `json:"device_score"`
}

// DeviceUser is a (user, risk) pair on a shared device.
type DeviceUser struct {
	ID   string  `json:"id"`
	Risk float64 `json:"risk"`
}

// GraphStats is the transaction-graph slice of the dashboard.
type GraphStats struct {
	TotalTransactions   int64
	TotalAmount         float64
	AvgRisk             float64
	FlaggedTransactions int64
	ActiveClusters      int64
}

// Reader exposes the feature-extraction reads. Extractors depend on
// narrow subsets of it declared on the consumer side.
type Reader interface {
	UserTxHistory(ctx context.Context, userID string, limit int) ([]TxSample, error)
	UserProfile(ctx context.Context, userID string) (*UserProfile, error)
	DormantWakeup(ctx context.Context, userID string, dormantDays int) (*DormantWakeup, error)
	RecentInflowOutflow(ctx context.Context, userID string, windowSec int) (*FlowWindow, error)
	IPRotationCount(ctx context.Context, userID string) (int64, error)
	RecentAmounts(ctx context.Context, userID string, windowHours int) ([]float64, error)
	HourDistribution(ctx context.Context, userID string) (map[int64]int64, error)
	IdenticalTxCount(ctx context.Context, senderID, receiverID string, amount float64, windowHours int) (int64, error)
	DeviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error)
	DeviceRiskPropagation(ctx context.Context, deviceID string) (*DevicePropagation, error)
	UserDeviceHistory(ctx context.Context, userID string) ([]string, error)
	DeviceUsers24h(ctx context.Context, deviceID string) (int64, error)
	UserGraphFeatures(ctx context.Context, userID string) (*GraphFeatures, error)
	CommunityStats(ctx context.Context, communityID string) (*CommunityStats, error)
	VelocityFeatures(ctx context.Context, userID string, windowSec int) (*VelocityWindow, error)
	ASNDensity(ctx context.Context, asn int64) (int64, error)
	UserASNHistory(ctx context.Context, userID string) ([]ASNUsage, error)
}

// Writer exposes the scoring write path.
type Writer interface {
	IngestTransaction(ctx context.Context, tx *models.TransactionInput) error
	IngestIP(ctx context.Context, rec *IPRecord) error
	UpdateTransactionRisk(ctx context.Context, txID string, score float64, status models.TransactionStatus, reason string, lat, lon float64) error
	UpdateUserRisk(ctx context.Context, userID string, score float64) error
}

// Analytics exposes the batch jobs driven by the background analyzer.
type Analytics interface {
	BatchUpdateUserStats(ctx context.Context, windowSec int) (int64, error)
	BatchUpdateDeviceStats(ctx context.Context) (int64, error)
	FlagDormantAccounts(ctx context.Context, dormantDays int) (int64, error)

	ProbeGDS(ctx context.Context) (string, error)
	DropProjection(ctx context.Context) error
	CreateProjection(ctx context.Context) (nodes, rels int64, err error)
	RunLouvain(ctx context.Context) (int64, error)
	RunBetweenness(ctx context.Context) (int64, error)
	RunPageRank(ctx context.Context) (int64, error)
	RunLocalClustering(ctx context.Context) (int64, error)
	RunWCC(ctx context.Context) (int64, error)

	FallbackCommunities(ctx context.Context) (int64, error)
	FallbackBetweenness(ctx context.Context) (int64, error)
	FallbackPageRank(ctx context.Context) (int64, error)
	FallbackClustering(ctx context.Context) (int64, error)
}

// Detector exposes the collusion-pattern queries.
type Detector interface {
	DetectFraudIslands(ctx context.Context, minAvgRisk float64) ([]FraudIsland, error)
	DetectMoneyRouters(ctx context.Context, minBetweenness float64) ([]MoneyRouter, error)
	DetectCircularFlows(ctx context.Context) ([]CircularFlow, error)
	DetectRapidChains(ctx context.Context) ([]RapidChain, error)
	DetectStarHubs(ctx context.Context, minDegree int) ([]StarHub, error)
	DetectRelayMules(ctx context.Context, minFlowRatio float64) ([]RelayMule, error)
}

// Insights exposes the read models behind the HTTP surface.
type Insights interface {
	FraudNetwork(ctx context.Context, minRisk float64, clusterIDs []string) ([]NetworkEdge, error)
	DeviceSharing(ctx context.Context) ([]SharedDevice, error)
	DashboardStats(ctx context.Context, highThreshold float64) (*GraphStats, error)
	NodeCounts(ctx context.Context) (map[string]int64, error)
	RelationshipCounts(ctx context.Context) (map[string]int64, error)
}

// Store is the full graph surface. *Neo4jStore implements it.
type Store interface {
	Reader
	Writer
	Analytics
	Detector
	Insights
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
