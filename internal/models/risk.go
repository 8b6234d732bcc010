package models

import "time"

// RiskBreakdown carries the five extractor sub-scores, each in [0,100].
type RiskBreakdown struct {
	Graph       float64 `json:"graph"`
	Behavioral  float64 `json:"behavioral"`
	Device      float64 `json:"device"`
	DeadAccount float64 `json:"dead_account"`
	Velocity    float64 `json:"velocity"`
}

// RiskResponse is the scored record returned by POST /transaction and
// broadcast on /ws/alerts for records at or above the medium threshold.
type RiskResponse struct {
	TxID             string        `json:"tx_id"`
	RiskScore        float64       `json:"risk_score"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	Breakdown        RiskBreakdown `json:"breakdown"`
	ClusterID        string        `json:"cluster_id,omitempty"`
	Flags            []string      `json:"flags"`
	Reason           string        `json:"reason"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
	Timestamp        time.Time     `json:"timestamp"`
}

// DashboardStats aggregates operational counters for GET /dashboard/stats.
type DashboardStats struct {
	TotalTransactions    int64   `json:"total_transactions"`
	FlaggedTransactions  int64   `json:"flagged_transactions"`
	ActiveClusters       int64   `json:"active_clusters"`
	AvgRiskScore         float64 `json:"avg_risk_score"`
	TotalAmountProcessed float64 `json:"total_amount_processed"`
	AvgProcessingTimeMs  float64 `json:"avg_processing_time_ms"`
	TPS                  float64 `json:"tps"`
}
