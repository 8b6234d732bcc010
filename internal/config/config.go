// Package config loads engine configuration from an optional YAML file
// with environment-variable overrides on top. A .env file, when present,
// is folded into the environment before resolution.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Weights   FusionWeights   `yaml:"weights"`
	Risk      RiskConfig      `yaml:"risk"`
	Features  FeatureConfig   `yaml:"features"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// RateLimitPerMin bounds POST /transaction per source; 0 disables.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

type Neo4jConfig struct {
	URI         string `yaml:"uri"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	StreamKey     string `yaml:"stream_key"`
	ConsumerGroup string `yaml:"consumer_group"`
	AlertsChannel string `yaml:"alerts_channel"`
}

type WorkerConfig struct {
	Count           int `yaml:"count"`
	BatchSize       int `yaml:"batch_size"`
	RecordTimeoutMs int `yaml:"record_timeout_ms"`
}

// FusionWeights must sum to 1 across the five extractors.
type FusionWeights struct {
	Graph       float64 `yaml:"graph"`
	Behavioral  float64 `yaml:"behavioral"`
	Device      float64 `yaml:"device"`
	DeadAccount float64 `yaml:"dead_account"`
	Velocity    float64 `yaml:"velocity"`
}

type RiskConfig struct {
	HighThreshold   float64 `yaml:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold"`
	MuleThreshold   float64 `yaml:"mule_threshold"`
}

// FeatureConfig holds per-extractor signal parameters.
type FeatureConfig struct {
	MMDBPath                 string  `yaml:"mmdb_path"`
	DormantDaysThreshold     int     `yaml:"dormant_days_threshold"`
	DeviceAccountThreshold   int     `yaml:"device_account_threshold"`
	VelocityWindowSec        int     `yaml:"velocity_window_sec"`
	BehavioralHistoryCount   int     `yaml:"behavioral_history_count"`
	PassThroughRatio         float64 `yaml:"pass_through_ratio"`
	BurstTxThreshold         int     `yaml:"burst_tx_threshold"`
	ImpossibleTravelKmh      float64 `yaml:"impossible_travel_kmh"`
	NightStartHour           int     `yaml:"night_start_hour"`
	NightEndHour             int     `yaml:"night_end_hour"`
	CapabilityMaskWeight     float64 `yaml:"capability_mask_weight"`
	NewDeviceHighAmount      float64 `yaml:"new_device_high_amount"`
	NewDevicePenalty         float64 `yaml:"new_device_penalty"`
	DeviceMultiUserThreshold int     `yaml:"device_multi_user_threshold"`
	DeviceMultiUserWindowHrs int     `yaml:"device_multi_user_window_hours"`
	DeviceMultiUserPenalty   float64 `yaml:"device_multi_user_penalty"`
	IPRotationWindowHours    int     `yaml:"ip_rotation_window_hours"`
	IPRotationMaxUnique      int     `yaml:"ip_rotation_max_unique"`
	IPRotationPenalty        float64 `yaml:"ip_rotation_penalty"`
	FixedAmountTolerance     float64 `yaml:"fixed_amount_tolerance"`
	FixedAmountMinCount      int     `yaml:"fixed_amount_min_count"`
	FixedAmountPenalty       float64 `yaml:"fixed_amount_penalty"`
	CircadianPenalty         float64 `yaml:"circadian_penalty"`
	CircadianNewDevice       float64 `yaml:"circadian_new_device_penalty"`
	IdenticalityWindowHours  int     `yaml:"tx_identicality_window_hours"`
	IdenticalityMinCount     int     `yaml:"tx_identicality_min_count"`
	IdenticalityPenalty      float64 `yaml:"tx_identicality_penalty"`
	SleepFlashRatio          float64 `yaml:"sleep_flash_ratio"`
	SleepFlashDormantDays    int     `yaml:"sleep_flash_dormant_days"`
}

type AnalyzerConfig struct {
	IntervalSec       int     `yaml:"interval_sec"`
	MinIslandRisk     float64 `yaml:"min_island_risk"`
	MinBetweenness    float64 `yaml:"min_betweenness"`
	MinRelayFlowRatio float64 `yaml:"min_relay_flow_ratio"`
	StarHubMinDegree  int     `yaml:"star_hub_min_degree"`
}

type SimulatorConfig struct {
	TPS         int     `yaml:"tps"`
	TotalTx     int     `yaml:"total_tx"`
	UserCount   int     `yaml:"user_count"`
	MuleRatio   float64 `yaml:"mule_ratio"`
	DeviceCount int     `yaml:"device_count"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", RateLimitPerMin: 300},
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Password:    "password123",
			Database:    "neo4j",
			MaxPoolSize: 50,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			StreamKey:     "fraud_queue",
			ConsumerGroup: "fraud_workers",
			AlertsChannel: "fraud_alerts",
		},
		Worker: WorkerConfig{Count: 4, BatchSize: 10, RecordTimeoutMs: 200},
		Weights: FusionWeights{
			Graph:       0.30,
			Behavioral:  0.25,
			Device:      0.20,
			DeadAccount: 0.15,
			Velocity:    0.10,
		},
		Risk: RiskConfig{HighThreshold: 70, MediumThreshold: 40, MuleThreshold: 65},
		Features: FeatureConfig{
			MMDBPath:                 "asn_ipv4_small.mmdb",
			DormantDaysThreshold:     30,
			DeviceAccountThreshold:   5,
			VelocityWindowSec:        60,
			BehavioralHistoryCount:   25,
			PassThroughRatio:         0.80,
			BurstTxThreshold:         10,
			ImpossibleTravelKmh:      250,
			NightStartHour:           23,
			NightEndHour:             5,
			CapabilityMaskWeight:     10,
			NewDeviceHighAmount:      10000,
			NewDevicePenalty:         12,
			DeviceMultiUserThreshold: 3,
			DeviceMultiUserWindowHrs: 24,
			DeviceMultiUserPenalty:   25,
			IPRotationWindowHours:    24,
			IPRotationMaxUnique:      5,
			IPRotationPenalty:        15,
			FixedAmountTolerance:     0.01,
			FixedAmountMinCount:      3,
			FixedAmountPenalty:       10,
			CircadianPenalty:         20,
			CircadianNewDevice:       35,
			IdenticalityWindowHours:  1,
			IdenticalityMinCount:     3,
			IdenticalityPenalty:      30,
			SleepFlashRatio:          50,
			SleepFlashDormantDays:    30,
		},
		Analyzer: AnalyzerConfig{
			IntervalSec:       5,
			MinIslandRisk:     40,
			MinBetweenness:    0.01,
			MinRelayFlowRatio: 0.75,
			StarHubMinDegree:  5,
		},
		Simulator: SimulatorConfig{
			TPS:         500,
			TotalTx:     10000,
			UserCount:   20,
			MuleRatio:   0.15,
			DeviceCount: 15,
		},
	}
}

// Load resolves the effective configuration: defaults, then the YAML file
// at path (if non-empty and present), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Server.Port, "PORT")
	envInt(&c.Server.RateLimitPerMin, "RATE_LIMIT_PER_MIN")
	envStr(&c.Neo4j.URI, "NEO4J_URI")
	envStr(&c.Neo4j.User, "NEO4J_USER")
	envStr(&c.Neo4j.Password, "NEO4J_PASSWORD")
	envStr(&c.Neo4j.Database, "NEO4J_DATABASE")
	envInt(&c.Neo4j.MaxPoolSize, "NEO4J_MAX_POOL_SIZE")
	envStr(&c.Redis.Addr, "REDIS_ADDR")
	envStr(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")
	envStr(&c.Redis.StreamKey, "REDIS_STREAM_KEY")
	envStr(&c.Redis.ConsumerGroup, "REDIS_CONSUMER_GROUP")
	envStr(&c.Redis.AlertsChannel, "REDIS_ALERTS_CHANNEL")
	envInt(&c.Worker.Count, "WORKER_COUNT")
	envInt(&c.Worker.BatchSize, "WORKER_BATCH_SIZE")
	envInt(&c.Worker.RecordTimeoutMs, "WORKER_RECORD_TIMEOUT_MS")
	envFloat(&c.Weights.Graph, "WEIGHT_GRAPH")
	envFloat(&c.Weights.Behavioral, "WEIGHT_BEHAVIORAL")
	envFloat(&c.Weights.Device, "WEIGHT_DEVICE")
	envFloat(&c.Weights.DeadAccount, "WEIGHT_DEAD_ACCOUNT")
	envFloat(&c.Weights.Velocity, "WEIGHT_VELOCITY")
	envFloat(&c.Risk.HighThreshold, "HIGH_RISK_THRESHOLD")
	envFloat(&c.Risk.MediumThreshold, "MEDIUM_RISK_THRESHOLD")
	envFloat(&c.Risk.MuleThreshold, "MULE_RISK_THRESHOLD")
	envStr(&c.Features.MMDBPath, "MMDB_PATH")
	envInt(&c.Features.DormantDaysThreshold, "DORMANT_DAYS_THRESHOLD")
	envInt(&c.Features.DeviceAccountThreshold, "DEVICE_ACCOUNT_THRESHOLD")
	envInt(&c.Features.VelocityWindowSec, "VELOCITY_WINDOW_SEC")
	envInt(&c.Features.BehavioralHistoryCount, "BEHAVIORAL_HISTORY_COUNT")
	envFloat(&c.Features.PassThroughRatio, "PASS_THROUGH_RATIO_THRESHOLD")
	envInt(&c.Features.BurstTxThreshold, "BURST_TX_THRESHOLD")
	envFloat(&c.Features.ImpossibleTravelKmh, "IMPOSSIBLE_TRAVEL_KMH")
	envInt(&c.Features.NightStartHour, "NIGHT_START_HOUR")
	envInt(&c.Features.NightEndHour, "NIGHT_END_HOUR")
	envFloat(&c.Features.NewDeviceHighAmount, "NEW_DEVICE_HIGH_AMOUNT_THRESHOLD")
	envFloat(&c.Features.NewDevicePenalty, "NEW_DEVICE_PENALTY")
	envInt(&c.Features.DeviceMultiUserThreshold, "DEVICE_MULTI_USER_THRESHOLD")
	envFloat(&c.Features.DeviceMultiUserPenalty, "DEVICE_MULTI_USER_PENALTY")
	envInt(&c.Features.IPRotationMaxUnique, "IP_ROTATION_MAX_UNIQUE")
	envFloat(&c.Features.IPRotationPenalty, "IP_ROTATION_PENALTY")
	envFloat(&c.Features.FixedAmountPenalty, "FIXED_AMOUNT_PENALTY")
	envFloat(&c.Features.CircadianPenalty, "CIRCADIAN_ANOMALY_PENALTY")
	envFloat(&c.Features.CircadianNewDevice, "CIRCADIAN_NEW_DEVICE_PENALTY")
	envInt(&c.Features.IdenticalityMinCount, "TX_IDENTICALITY_MIN_COUNT")
	envFloat(&c.Features.IdenticalityPenalty, "TX_IDENTICALITY_PENALTY")
	envFloat(&c.Features.SleepFlashRatio, "SLEEP_FLASH_RATIO_THRESHOLD")
	envInt(&c.Analyzer.IntervalSec, "GRAPH_ANALYTICS_INTERVAL_SEC")
	envFloat(&c.Analyzer.MinBetweenness, "MIN_BETWEENNESS")
	envFloat(&c.Analyzer.MinRelayFlowRatio, "MIN_RELAY_FLOW_RATIO")
	envInt(&c.Simulator.TPS, "SIMULATION_TPS")
	envInt(&c.Simulator.TotalTx, "SIMULATION_TOTAL_TX")
	envInt(&c.Simulator.UserCount, "SIMULATION_USER_COUNT")
	envFloat(&c.Simulator.MuleRatio, "SIMULATION_MULE_RATIO")
	envInt(&c.Simulator.DeviceCount, "SIMULATION_DEVICE_COUNT")
}

// Validate enforces cross-field invariants.
func (c *Config) Validate() error {
	sum := c.Weights.Graph + c.Weights.Behavioral + c.Weights.Device +
		c.Weights.DeadAccount + c.Weights.Velocity
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1, got %.6f", sum)
	}
	if c.Risk.MediumThreshold > c.Risk.HighThreshold {
		return fmt.Errorf("medium threshold %.1f exceeds high threshold %.1f",
			c.Risk.MediumThreshold, c.Risk.HighThreshold)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be >= 1")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("worker batch size must be >= 1")
	}
	if c.Analyzer.IntervalSec < 1 {
		return fmt.Errorf("analyzer interval must be >= 1s")
	}
	return nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
