package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fraudnet/backend/internal/models"
)

const (
	retryAttempts = 3
	retryBase     = 20 * time.Millisecond
	retryJitter   = 10 * time.Millisecond
)

// Neo4jStore is the production Store backed by a bolt driver.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects and verifies reachability.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string, maxPoolSize int, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""),
		func(c *neo4j.Config) {
			if maxPoolSize > 0 {
				c.MaxConnectionPoolSize = maxPoolSize
			}
		})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	logger.Info("connected to neo4j", "uri", uri, "database", database)
	return &Neo4jStore{driver: driver, database: database, logger: logger}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	_, err := s.read(ctx, "health", "RETURN 1 AS ok", nil)
	return err
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Neo4jStore) read(ctx context.Context, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out.([]*neo4j.Record), nil
}

// write runs a mutation with bounded exponential backoff. Transient
// failures retry; everything else surfaces immediately.
func (s *Neo4jStore) write(ctx context.Context, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBase*(1<<attempt) + time.Duration(rand.Int63n(int64(retryJitter)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		sess := s.session(ctx, neo4j.AccessModeWrite)
		out, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		})
		sess.Close(ctx)

		if err == nil {
			return out.([]*neo4j.Record), nil
		}
		lastErr = classify(op, err)

		var te *TransientError
		if !errors.As(lastErr, &te) {
			return nil, lastErr
		}
		s.logger.Warn("transient graph write, retrying",
			"op", op, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// classify maps driver errors onto the store error kinds. Context errors
// pass through untouched so deadline handling upstream stays exact.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if neo4j.IsConnectivityError(err) {
		return &TransientError{Op: op, Err: err}
	}
	var ne *neo4j.Neo4jError
	if errors.As(err, &ne) {
		if ne.IsRetriable() {
			return &TransientError{Op: op, Err: err}
		}
		return &StoreError{Op: op, Err: err}
	}
	return &StoreError{Op: op, Err: err}
}

func isConstraintError(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	var ne *neo4j.Neo4jError
	return errors.As(se.Err, &ne) &&
		strings.Contains(ne.Code, "ConstraintValidationFailed")
}

// --- write path ---

func txParams(tx *models.TransactionInput) map[string]any {
	return map[string]any{
		"tx_id":               tx.TxID,
		"sender_id":           tx.SenderID,
		"receiver_id":         tx.ReceiverID,
		"amount":              tx.Amount,
		"timestamp":           tx.Timestamp.UTC().Format(time.RFC3339Nano),
		"device_id":           nullable(tx.DeviceHash),
		"device_os":           nullable(tx.DeviceOS),
		"device_type":         nullable(tx.DeviceType),
		"app_version":         nullable(tx.AppVersion),
		"capability_mask":     nullable(tx.CapabilityMask),
		"currency":            nullable(tx.Currency),
		"txn_type":            nullable(tx.TxnType),
		"channel":             nullable(tx.Channel),
		"credential_type":     nullable(tx.CredentialType),
		"credential_sub_type": nullable(string(tx.CredentialSub)),
		"receiver_type":       nullable(tx.ReceiverType),
		"mcc_code":            nullable(tx.MCCCode),
		"sender_upi_id":       nullable(tx.UPIIDSender),
		"receiver_upi_id":     nullable(tx.UPIIDReceiver),
	}
}

// IngestTransaction takes the lock-free MATCH path first and falls back
// to the MERGE path when either account node is missing. MERGE races on
// tx_id from redelivered records are tolerated.
func (s *Neo4jStore) IngestTransaction(ctx context.Context, tx *models.TransactionInput) error {
	params := txParams(tx)
	if params["device_id"] == nil {
		params["device_id"] = "unknown-device"
	}

	rows, err := s.write(ctx, "ingest", ingestTransaction, params)
	if err == nil && len(rows) > 0 {
		return nil
	}
	if err != nil && !isConstraintError(err) {
		return err
	}
	if isConstraintError(err) {
		s.logger.Debug("ingest constraint race, record already present", "tx_id", tx.TxID)
		return nil
	}

	// No row bound: one of the accounts is new. The safe path creates it.
	rows, err = s.write(ctx, "ingest_safe", ingestTransactionSafe, params)
	if err != nil {
		if isConstraintError(err) {
			return nil
		}
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("ingest %s: %w", tx.TxID, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) IngestIP(ctx context.Context, rec *IPRecord) error {
	_, err := s.write(ctx, "ingest_ip", ingestIP, map[string]any{
		"user_id":     rec.UserID,
		"ip_address":  rec.IPAddress,
		"geo_lat":     rec.GeoLat,
		"geo_lon":     rec.GeoLon,
		"city":        nullable(rec.City),
		"country":     nullable(rec.Country),
		"asn":         rec.ASN,
		"asn_type":    nullable(rec.ASNType),
		"asn_org":     nullable(rec.ASNOrg),
		"asn_country": nullable(rec.ASNCountry),
	})
	return err
}

func (s *Neo4jStore) UpdateTransactionRisk(ctx context.Context, txID string, score float64, status models.TransactionStatus, reason string, lat, lon float64) error {
	rows, err := s.write(ctx, "update_tx_risk", updateTxRisk, map[string]any{
		"tx_id":      txID,
		"risk_score": score,
		"status":     string(status),
		"reason":     reason,
		"sender_lat": lat,
		"sender_lon": lon,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("update risk on %s: %w", txID, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) UpdateUserRisk(ctx context.Context, userID string, score float64) error {
	rows, err := s.write(ctx, "update_user_risk", updateUserRisk, map[string]any{
		"user_id":    userID,
		"risk_score": score,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("update risk on user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// --- feature reads ---

func (s *Neo4jStore) UserTxHistory(ctx context.Context, userID string, limit int) ([]TxSample, error) {
	rows, err := s.read(ctx, "user_tx_history", queryUserTxHistory, map[string]any{
		"user_id": userID, "limit": limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]TxSample, 0, len(rows))
	for _, r := range rows {
		out = append(out, TxSample{
			Amount:    asFloat(value(r, "amount")),
			Timestamp: asTime(value(r, "timestamp")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) UserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	rows, err := s.read(ctx, "user_profile", queryUserProfile, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	p := &UserProfile{
		AvgTxAmount:  asFloat(value(r, "avg_tx_amount")),
		StdTxAmount:  asFloat(value(r, "std_tx_amount")),
		TxCount:      asInt(value(r, "tx_count")),
		TotalOutflow: asFloat(value(r, "total_outflow")),
		LastActive:   asTime(value(r, "last_active")),
		IsDormant:    asBool(value(r, "is_dormant")),
		RiskScore:    asFloat(value(r, "risk_score")),
	}
	if lat, lon := value(r, "last_lat"), value(r, "last_lon"); lat != nil && lon != nil {
		p.LastLat, p.LastLon, p.HasLocation = asFloat(lat), asFloat(lon), true
	}
	return p, nil
}

func (s *Neo4jStore) DormantWakeup(ctx context.Context, userID string, dormantDays int) (*DormantWakeup, error) {
	rows, err := s.read(ctx, "dormant_wakeup", queryDormantWakeup, map[string]any{
		"user_id": userID, "dormant_days": dormantDays,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &DormantWakeup{
		IsDormant:     asBool(value(r, "is_dormant")),
		TxCount:       asInt(value(r, "tx_count")),
		AvgTxAmount:   asFloat(value(r, "avg_tx_amount")),
		DaysSlept:     asFloat(value(r, "days_slept")),
		RecentTxCount: asInt(value(r, "recent_tx_count")),
		RecentVolume:  asFloat(value(r, "recent_volume")),
		IsFirstStrike: asBool(value(r, "is_first_strike")),
		IsVolumeSpike: asBool(value(r, "is_volume_spike")),
	}, nil
}

func (s *Neo4jStore) RecentInflowOutflow(ctx context.Context, userID string, windowSec int) (*FlowWindow, error) {
	rows, err := s.read(ctx, "recent_flow", queryRecentInflowOutflow, map[string]any{
		"user_id": userID, "window": windowSec,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &FlowWindow{}, nil
	}
	r := rows[0]
	return &FlowWindow{
		Inflow:       asFloat(value(r, "recent_inflow")),
		Outflow:      asFloat(value(r, "recent_outflow")),
		InflowCount:  asInt(value(r, "inflow_count")),
		OutflowCount: asInt(value(r, "outflow_count")),
	}, nil
}

func (s *Neo4jStore) IPRotationCount(ctx context.Context, userID string) (int64, error) {
	rows, err := s.read(ctx, "ip_rotation", queryIPRotation, map[string]any{"user_id": userID})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(value(rows[0], "unique_ip_count")), nil
}

func (s *Neo4jStore) RecentAmounts(ctx context.Context, userID string, windowHours int) ([]float64, error) {
	rows, err := s.read(ctx, "recent_amounts", queryRecentAmounts, map[string]any{
		"user_id": userID, "window_hours": windowHours,
	})
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		out = append(out, asFloat(value(r, "amount")))
	}
	return out, nil
}

func (s *Neo4jStore) HourDistribution(ctx context.Context, userID string) (map[int64]int64, error) {
	rows, err := s.read(ctx, "hour_distribution", queryUserHourDistribution, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[asInt(value(r, "hour"))] = asInt(value(r, "cnt"))
	}
	return out, nil
}

func (s *Neo4jStore) IdenticalTxCount(ctx context.Context, senderID, receiverID string, amount float64, windowHours int) (int64, error) {
	rows, err := s.read(ctx, "identical_tx", queryIdenticalTxReceiver, map[string]any{
		"sender_id": senderID, "receiver_id": receiverID,
		"amount": amount, "window_hours": windowHours,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(value(rows[0], "identical_count")), nil
}

func (s *Neo4jStore) DeviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	rows, err := s.read(ctx, "device_info", queryDeviceInfo, map[string]any{"device_id": deviceID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &DeviceInfo{
		DeviceID:       asString(value(r, "device_id")),
		OS:             asString(value(r, "os")),
		CapabilityMask: asString(value(r, "capability_mask")),
		DeviceScore:    asFloat(value(r, "device_score")),
		AccountCount:   asInt(value(r, "account_count")),
	}, nil
}

func (s *Neo4jStore) DeviceRiskPropagation(ctx context.Context, deviceID string) (*DevicePropagation, error) {
	rows, err := s.read(ctx, "device_propagation", queryDeviceRiskPropagation, map[string]any{"device_id": deviceID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &DevicePropagation{
		AvgUserRisk:     asFloat(value(r, "avg_user_risk")),
		MaxUserRisk:     asFloat(value(r, "max_user_risk")),
		UserCount:       asInt(value(r, "user_count")),
		DeviceRiskScore: asFloat(value(r, "device_risk_score")),
	}, nil
}

func (s *Neo4jStore) UserDeviceHistory(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.read(ctx, "user_devices", queryUserDeviceHistory, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, asString(value(r, "device_id")))
	}
	return out, nil
}

func (s *Neo4jStore) DeviceUsers24h(ctx context.Context, deviceID string) (int64, error) {
	rows, err := s.read(ctx, "device_users_24h", queryDeviceUsers24h, map[string]any{"device_id": deviceID})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(value(rows[0], "unique_users_24h")), nil
}

func (s *Neo4jStore) UserGraphFeatures(ctx context.Context, userID string) (*GraphFeatures, error) {
	rows, err := s.read(ctx, "graph_features", queryUserGraphFeatures, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	gf := &GraphFeatures{
		InDegree:        asInt(value(r, "in_degree")),
		OutDegree:       asInt(value(r, "out_degree")),
		Betweenness:     asFloat(value(r, "betweenness")),
		PageRank:        asFloat(value(r, "pagerank")),
		ClusteringCoeff: asFloat(value(r, "clustering_coeff")),
		AvgNeighborRisk: asFloat(value(r, "avg_neighbor_risk")),
	}
	if cid := value(r, "community_id"); cid != nil {
		gf.CommunityID, gf.HasCommunity = asString(cid), true
	}
	return gf, nil
}

func (s *Neo4jStore) CommunityStats(ctx context.Context, communityID string) (*CommunityStats, error) {
	rows, err := s.read(ctx, "community_stats", queryCommunityStats, map[string]any{"community_id": communityID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &CommunityStats{
		MemberCount:   asInt(value(r, "member_count")),
		AvgRisk:       asFloat(value(r, "avg_risk")),
		HighRiskCount: asInt(value(r, "high_risk_count")),
	}, nil
}

func (s *Neo4jStore) VelocityFeatures(ctx context.Context, userID string, windowSec int) (*VelocityWindow, error) {
	rows, err := s.read(ctx, "velocity", queryVelocityFeatures, map[string]any{
		"user_id": userID, "window": windowSec,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &VelocityWindow{
		SendCount:     asInt(value(r, "send_count")),
		ReceiveCount:  asInt(value(r, "receive_count")),
		TotalSent:     asFloat(value(r, "total_sent_window")),
		TotalReceived: asFloat(value(r, "total_received_window")),
		Ratio:         asFloat(value(r, "outflow_inflow_ratio")),
		TotalActivity: asInt(value(r, "total_activity")),
	}, nil
}

func (s *Neo4jStore) ASNDensity(ctx context.Context, asn int64) (int64, error) {
	rows, err := s.read(ctx, "asn_density", queryASNDensity, map[string]any{"asn_number": asn})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(value(rows[0], "account_count")), nil
}

func (s *Neo4jStore) UserASNHistory(ctx context.Context, userID string) ([]ASNUsage, error) {
	rows, err := s.read(ctx, "asn_history", queryUserASNHistory, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	out := make([]ASNUsage, 0, len(rows))
	for _, r := range rows {
		out = append(out, ASNUsage{
			ASN:        asInt(value(r, "asn")),
			UsageCount: asInt(value(r, "usage_count")),
		})
	}
	return out, nil
}

// --- batch analytics ---

func (s *Neo4jStore) BatchUpdateUserStats(ctx context.Context, windowSec int) (int64, error) {
	return s.writeCount(ctx, "batch_user_stats", batchUpdateUserStats,
		map[string]any{"window_sec": windowSec}, "users_updated")
}

func (s *Neo4jStore) BatchUpdateDeviceStats(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "batch_device_stats", batchUpdateDeviceStats, nil, "devices_updated")
}

func (s *Neo4jStore) FlagDormantAccounts(ctx context.Context, dormantDays int) (int64, error) {
	return s.writeCount(ctx, "flag_dormant", queryFlagDormantAccounts,
		map[string]any{"dormant_days": dormantDays}, "dormant_count")
}

func (s *Neo4jStore) ProbeGDS(ctx context.Context) (string, error) {
	rows, err := s.read(ctx, "gds_probe", gdsProbe, nil)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("gds probe: %w", ErrNotFound)
	}
	return asString(value(rows[0], "version")), nil
}

func (s *Neo4jStore) DropProjection(ctx context.Context) error {
	_, err := s.write(ctx, "gds_drop", gdsDropProjection, nil)
	return err
}

func (s *Neo4jStore) CreateProjection(ctx context.Context) (int64, int64, error) {
	rows, err := s.write(ctx, "gds_project", gdsCreateProjection, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("gds project: %w", ErrNotFound)
	}
	r := rows[0]
	return asInt(value(r, "nodeCount")), asInt(value(r, "relationshipCount")), nil
}

func (s *Neo4jStore) RunLouvain(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "gds_louvain", gdsLouvain, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) RunBetweenness(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "gds_betweenness", gdsBetweenness, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) RunPageRank(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "gds_pagerank", gdsPageRank, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) RunLocalClustering(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "gds_clustering", gdsLocalClustering, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) RunWCC(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "gds_wcc", gdsWCC, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) FallbackCommunities(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "fallback_communities", fallbackCommunityDetection, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) FallbackBetweenness(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "fallback_betweenness", fallbackBetweenness, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) FallbackPageRank(ctx context.Context) (int64, error) {
	return s.writeCount(ctx, "fallback_pagerank", fallbackPageRank, nil, "nodePropertiesWritten")
}

func (s *Neo4jStore) FallbackClustering(ctx context.Context) (int64, error) {
	n, err := s.writeCount(ctx, "fallback_clustering", fallbackClusteringCoeff, nil, "nodePropertiesWritten")
	if err != nil {
		return 0, err
	}
	// Degree-<2 nodes never enter the triangle pass.
	if _, err := s.write(ctx, "fallback_clustering_zero", fallbackClusteringCoeffZero, nil); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Neo4jStore) writeCount(ctx context.Context, op, query string, params map[string]any, key string) (int64, error) {
	rows, err := s.write(ctx, op, query, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(value(rows[0], key)), nil
}

// --- collusion detectors ---

func (s *Neo4jStore) DetectFraudIslands(ctx context.Context, minAvgRisk float64) ([]FraudIsland, error) {
	rows, err := s.read(ctx, "detect_islands", detectFraudIslands, map[string]any{"min_avg_risk": minAvgRisk})
	if err != nil {
		return nil, err
	}
	out := make([]FraudIsland, 0, len(rows))
	for _, r := range rows {
		out = append(out, FraudIsland{
			ClusterID:       asString(value(r, "cluster_id")),
			MemberCount:     asInt(value(r, "member_count")),
			AvgRisk:         asFloat(value(r, "avg_risk")),
			MemberIDs:       asStrings(value(r, "member_ids")),
			HighRiskMembers: asInt(value(r, "high_risk_members")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DetectMoneyRouters(ctx context.Context, minBetweenness float64) ([]MoneyRouter, error) {
	rows, err := s.read(ctx, "detect_routers", detectMoneyRouters, map[string]any{"min_betweenness": minBetweenness})
	if err != nil {
		return nil, err
	}
	out := make([]MoneyRouter, 0, len(rows))
	for _, r := range rows {
		out = append(out, MoneyRouter{
			UserID:      asString(value(r, "user_id")),
			Betweenness: asFloat(value(r, "betweenness")),
			RiskScore:   asFloat(value(r, "risk_score")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DetectCircularFlows(ctx context.Context) ([]CircularFlow, error) {
	rows, err := s.read(ctx, "detect_circular", detectCircularFlows, nil)
	if err != nil {
		return nil, err
	}
	out := make([]CircularFlow, 0, len(rows))
	for _, r := range rows {
		out = append(out, CircularFlow{
			NodeA:     asString(value(r, "node_a")),
			NodeB:     asString(value(r, "node_b")),
			NodeC:     asString(value(r, "node_c")),
			TotalFlow: asFloat(value(r, "total_circular_flow")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DetectRapidChains(ctx context.Context) ([]RapidChain, error) {
	rows, err := s.read(ctx, "detect_chains", detectRapidChains, nil)
	if err != nil {
		return nil, err
	}
	out := make([]RapidChain, 0, len(rows))
	for _, r := range rows {
		out = append(out, RapidChain{
			Start:     asString(value(r, "chain_start")),
			End:       asString(value(r, "chain_end")),
			Nodes:     asStrings(value(r, "chain_nodes")),
			Depth:     asInt(value(r, "depth")),
			TotalFlow: asFloat(value(r, "total_flow")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DetectStarHubs(ctx context.Context, minDegree int) ([]StarHub, error) {
	rows, err := s.read(ctx, "detect_hubs", detectStarHubs, map[string]any{
		"min_in_degree": minDegree, "min_out_degree": minDegree,
	})
	if err != nil {
		return nil, err
	}
	out := make([]StarHub, 0, len(rows))
	for _, r := range rows {
		out = append(out, StarHub{
			UserID:    asString(value(r, "user_id")),
			InDegree:  asInt(value(r, "in_degree")),
			OutDegree: asInt(value(r, "out_degree")),
			HubType:   asString(value(r, "hub_type")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DetectRelayMules(ctx context.Context, minFlowRatio float64) ([]RelayMule, error) {
	rows, err := s.read(ctx, "detect_relays", detectRelayMules, map[string]any{"min_flow_ratio": minFlowRatio})
	if err != nil {
		return nil, err
	}
	out := make([]RelayMule, 0, len(rows))
	for _, r := range rows {
		out = append(out, RelayMule{
			UserID:     asString(value(r, "user_id")),
			Inflow10m:  asFloat(value(r, "total_inflow_10m")),
			Outflow10m: asFloat(value(r, "total_outflow_10m")),
			FlowRatio:  asFloat(value(r, "flow_ratio")),
		})
	}
	return out, nil
}

// --- read models ---

func (s *Neo4jStore) FraudNetwork(ctx context.Context, minRisk float64, clusterIDs []string) ([]NetworkEdge, error) {
	if clusterIDs == nil {
		clusterIDs = []string{}
	}
	rows, err := s.read(ctx, "viz_network", vizFraudNetwork, map[string]any{
		"min_risk": minRisk, "cluster_ids": clusterIDs,
	})
	if err != nil {
		return nil, err
	}
	out := make([]NetworkEdge, 0, len(rows))
	for _, r := range rows {
		out = append(out, NetworkEdge{
			SourceID:      asString(value(r, "source_id")),
			SourceRisk:    asFloat(value(r, "source_risk")),
			SourceCluster: asString(value(r, "source_cluster")),
			TargetID:      asString(value(r, "target_id")),
			TargetRisk:    asFloat(value(r, "target_risk")),
			TargetCluster: asString(value(r, "target_cluster")),
			EdgeAmount:    asFloat(value(r, "edge_amount")),
			EdgeTxCount:   asInt(value(r, "edge_tx_count")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) DeviceSharing(ctx context.Context) ([]SharedDevice, error) {
	rows, err := s.read(ctx, "viz_devices", vizDeviceSharing, nil)
	if err != nil {
		return nil, err
	}
	out := make([]SharedDevice, 0, len(rows))
	for _, r := range rows {
		sd := SharedDevice{
			DeviceID:    asString(value(r, "device_id")),
			SharedCount: asInt(value(r, "shared_count")),
			DeviceScore: asFloat(value(r, "device_score")),
		}
		if users, ok := value(r, "users").([]any); ok {
			for _, u := range users {
				if m, ok := u.(map[string]any); ok {
					sd.Users = append(sd.Users, DeviceUser{
						ID:   asString(m["id"]),
						Risk: asFloat(m["risk"]),
					})
				}
			}
		}
		out = append(out, sd)
	}
	return out, nil
}

func (s *Neo4jStore) DashboardStats(ctx context.Context, highThreshold float64) (*GraphStats, error) {
	rows, err := s.read(ctx, "viz_dashboard", vizDashboardStats, map[string]any{"high_threshold": highThreshold})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &GraphStats{}, nil
	}
	r := rows[0]
	return &GraphStats{
		TotalTransactions:   asInt(value(r, "total_tx")),
		TotalAmount:         asFloat(value(r, "total_amount")),
		AvgRisk:             asFloat(value(r, "avg_risk")),
		FlaggedTransactions: asInt(value(r, "flagged")),
		ActiveClusters:      asInt(value(r, "active_clusters")),
	}, nil
}

func (s *Neo4jStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return s.countsBy(ctx, "node_counts", maintCountNodes, "label")
}

func (s *Neo4jStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return s.countsBy(ctx, "rel_counts", maintCountRels, "type")
}

func (s *Neo4jStore) countsBy(ctx context.Context, op, query, key string) (map[string]int64, error) {
	rows, err := s.read(ctx, op, query, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[asString(value(r, key))] = asInt(value(r, "count"))
	}
	return out, nil
}

// --- record coercion ---

func value(r *neo4j.Record, key string) any {
	v, _ := r.Get(key)
	return v
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func asStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, asString(e))
	}
	return out
}
