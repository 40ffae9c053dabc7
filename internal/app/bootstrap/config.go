package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	RedisURL         string
	DatabaseURL      string
	DatabaseMaxConns int32

	ChainGRPCURL        string
	RecordsGRPCURL      string
	SubscriptionGRPCURL string
	BillingNotifyURL    string

	KafkaBrokers          []string
	KafkaConsumerGroup    string
	TopicBalanceConfirmed string
	TopicClaimCommitted   string
	TopicClaimFailed      string
	TopicCycleCompleted   string
	TopicBalanceClamped   string
	DLQTopic              string

	SettlementInterval  time.Duration
	SettlementThreshold float64
	ActiveDenom         string
	GranteeAddress      string
	MaxClaimAmounts     map[string]float64

	PendingClaimTTL  time.Duration
	EventDedupTTL    time.Duration
	CheckpointTTL    time.Duration
	SnapshotCacheTTL time.Duration

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryBackoffFactor   float64

	ConsumerPollInterval    time.Duration
	SuppressPaymentRequired bool
	OutboxFlushBatchSize    int
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		RedisURL              string   `yaml:"redis_url"`
		DatabaseURL           string   `yaml:"database_url"`
		DatabaseMaxConns      int32    `yaml:"database_max_conns"`
		ChainGRPCURL          string   `yaml:"chain_grpc_url"`
		RecordsGRPCURL        string   `yaml:"records_grpc_url"`
		SubscriptionGRPCURL   string   `yaml:"subscription_grpc_url"`
		BillingNotifyURL      string   `yaml:"billing_notify_url"`
		KafkaBrokers          []string `yaml:"kafka_brokers"`
		KafkaConsumerGroup    string   `yaml:"kafka_consumer_group"`
		TopicBalanceConfirmed string   `yaml:"topic_balance_confirmed"`
		TopicClaimCommitted   string   `yaml:"topic_claim_committed"`
		TopicClaimFailed      string   `yaml:"topic_claim_failed"`
		TopicCycleCompleted   string   `yaml:"topic_cycle_completed"`
		TopicBalanceClamped   string   `yaml:"topic_balance_clamped"`
		TopicDLQ              string   `yaml:"topic_dlq"`
	} `yaml:"dependencies"`
	Settlement struct {
		IntervalSeconds         int                `yaml:"interval_seconds"`
		Threshold               float64            `yaml:"threshold"`
		Denom                   string             `yaml:"denom"`
		GranteeAddress          string             `yaml:"grantee_address"`
		MaxClaimAmounts         map[string]float64 `yaml:"max_claim_amounts"`
		PendingClaimTTLMinutes  int                `yaml:"pending_claim_ttl_minutes"`
		EventDedupTTLHours      int                `yaml:"event_dedup_ttl_hours"`
		CheckpointTTLHours      int                `yaml:"checkpoint_ttl_hours"`
		SnapshotCacheTTLSeconds int                `yaml:"snapshot_cache_ttl_seconds"`
		SuppressPaymentRequired bool               `yaml:"suppress_payment_required"`
		RetryMaxAttempts        int                `yaml:"retry_max_attempts"`
		RetryInitialMillis      int                `yaml:"retry_initial_millis"`
		RetryBackoffFactor      float64            `yaml:"retry_backoff_factor"`
		ConsumerPollSeconds     int                `yaml:"consumer_poll_seconds"`
		OutboxFlushBatchSize    int                `yaml:"outbox_flush_batch_size"`
	} `yaml:"settlement"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:             "M15-Usage-Settlement-Service",
		HTTPPort:              8080,
		GRPCPort:              9090,
		KafkaConsumerGroup:    "m15-usage-settlement-service",
		TopicBalanceConfirmed: "billing.balance_confirmed",
		TopicClaimCommitted:   "settlement.claim_committed",
		TopicClaimFailed:      "settlement.claim_failed",
		TopicCycleCompleted:   "settlement.cycle_completed",
		TopicBalanceClamped:   "ledger.balance_clamped",
		DLQTopic:              "usage-settlement-service.dlq",
		SettlementInterval:    5 * time.Minute,
		SettlementThreshold:   100,
		ActiveDenom:           "uixo",
		MaxClaimAmounts:       map[string]float64{"uixo": 5000},
		PendingClaimTTL:       time.Hour,
		EventDedupTTL:         7 * 24 * time.Hour,
		CheckpointTTL:         7 * 24 * time.Hour,
		SnapshotCacheTTL:      5 * time.Minute,
		RetryMaxAttempts:      3,
		RetryInitialInterval:  time.Second,
		RetryBackoffFactor:    2,
		ConsumerPollInterval:  2 * time.Second,
		OutboxFlushBatchSize:  100,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}

		cfg.RedisURL = f.Dependencies.RedisURL
		cfg.DatabaseURL = f.Dependencies.DatabaseURL
		if f.Dependencies.DatabaseMaxConns > 0 {
			cfg.DatabaseMaxConns = f.Dependencies.DatabaseMaxConns
		}
		cfg.ChainGRPCURL = f.Dependencies.ChainGRPCURL
		cfg.RecordsGRPCURL = f.Dependencies.RecordsGRPCURL
		cfg.SubscriptionGRPCURL = f.Dependencies.SubscriptionGRPCURL
		cfg.BillingNotifyURL = f.Dependencies.BillingNotifyURL
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
		}
		if f.Dependencies.KafkaConsumerGroup != "" {
			cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
		}
		if f.Dependencies.TopicBalanceConfirmed != "" {
			cfg.TopicBalanceConfirmed = f.Dependencies.TopicBalanceConfirmed
		}
		if f.Dependencies.TopicClaimCommitted != "" {
			cfg.TopicClaimCommitted = f.Dependencies.TopicClaimCommitted
		}
		if f.Dependencies.TopicClaimFailed != "" {
			cfg.TopicClaimFailed = f.Dependencies.TopicClaimFailed
		}
		if f.Dependencies.TopicCycleCompleted != "" {
			cfg.TopicCycleCompleted = f.Dependencies.TopicCycleCompleted
		}
		if f.Dependencies.TopicBalanceClamped != "" {
			cfg.TopicBalanceClamped = f.Dependencies.TopicBalanceClamped
		}
		if f.Dependencies.TopicDLQ != "" {
			cfg.DLQTopic = f.Dependencies.TopicDLQ
		}

		if f.Settlement.IntervalSeconds > 0 {
			cfg.SettlementInterval = time.Duration(f.Settlement.IntervalSeconds) * time.Second
		}
		if f.Settlement.Threshold > 0 {
			cfg.SettlementThreshold = f.Settlement.Threshold
		}
		if f.Settlement.Denom != "" {
			cfg.ActiveDenom = f.Settlement.Denom
		}
		if f.Settlement.GranteeAddress != "" {
			cfg.GranteeAddress = f.Settlement.GranteeAddress
		}
		if len(f.Settlement.MaxClaimAmounts) > 0 {
			cfg.MaxClaimAmounts = f.Settlement.MaxClaimAmounts
		}
		if f.Settlement.PendingClaimTTLMinutes > 0 {
			cfg.PendingClaimTTL = time.Duration(f.Settlement.PendingClaimTTLMinutes) * time.Minute
		}
		if f.Settlement.EventDedupTTLHours > 0 {
			cfg.EventDedupTTL = time.Duration(f.Settlement.EventDedupTTLHours) * time.Hour
		}
		if f.Settlement.CheckpointTTLHours > 0 {
			cfg.CheckpointTTL = time.Duration(f.Settlement.CheckpointTTLHours) * time.Hour
		}
		if f.Settlement.SnapshotCacheTTLSeconds > 0 {
			cfg.SnapshotCacheTTL = time.Duration(f.Settlement.SnapshotCacheTTLSeconds) * time.Second
		}
		cfg.SuppressPaymentRequired = f.Settlement.SuppressPaymentRequired
		if f.Settlement.RetryMaxAttempts > 0 {
			cfg.RetryMaxAttempts = f.Settlement.RetryMaxAttempts
		}
		if f.Settlement.RetryInitialMillis > 0 {
			cfg.RetryInitialInterval = time.Duration(f.Settlement.RetryInitialMillis) * time.Millisecond
		}
		if f.Settlement.RetryBackoffFactor > 0 {
			cfg.RetryBackoffFactor = f.Settlement.RetryBackoffFactor
		}
		if f.Settlement.ConsumerPollSeconds > 0 {
			cfg.ConsumerPollInterval = time.Duration(f.Settlement.ConsumerPollSeconds) * time.Second
		}
		if f.Settlement.OutboxFlushBatchSize > 0 {
			cfg.OutboxFlushBatchSize = f.Settlement.OutboxFlushBatchSize
		}
	}

	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.ChainGRPCURL = envOrDefault("CHAIN_GRPC_URL", cfg.ChainGRPCURL)
	cfg.RecordsGRPCURL = envOrDefault("RECORDS_GRPC_URL", cfg.RecordsGRPCURL)
	cfg.SubscriptionGRPCURL = envOrDefault("SUBSCRIPTION_GRPC_URL", cfg.SubscriptionGRPCURL)
	cfg.BillingNotifyURL = envOrDefault("BILLING_NOTIFY_URL", cfg.BillingNotifyURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.TopicBalanceConfirmed = envOrDefault("KAFKA_TOPIC_BALANCE_CONFIRMED", cfg.TopicBalanceConfirmed)
	cfg.DLQTopic = envOrDefault("KAFKA_TOPIC_SETTLEMENT_DLQ", cfg.DLQTopic)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.SettlementInterval = time.Duration(envInt("SETTLEMENT_INTERVAL_SECONDS", int(cfg.SettlementInterval.Seconds()))) * time.Second
	cfg.SettlementThreshold = envFloat("SETTLEMENT_THRESHOLD", cfg.SettlementThreshold)
	cfg.ActiveDenom = envOrDefault("ACTIVE_DENOM", cfg.ActiveDenom)
	cfg.GranteeAddress = envOrDefault("GRANTEE_ADDRESS", cfg.GranteeAddress)
	if v := envFloat("MAX_CLAIM_AMOUNT", 0); v > 0 {
		cfg.MaxClaimAmounts[cfg.ActiveDenom] = v
	}
	cfg.PendingClaimTTL = time.Duration(envInt("PENDING_CLAIM_TTL_MINUTES", int(cfg.PendingClaimTTL.Minutes()))) * time.Minute
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.CheckpointTTL = time.Duration(envInt("CHECKPOINT_TTL_HOURS", int(cfg.CheckpointTTL.Hours()))) * time.Hour
	cfg.SnapshotCacheTTL = time.Duration(envInt("SNAPSHOT_CACHE_TTL_SECONDS", int(cfg.SnapshotCacheTTL.Seconds()))) * time.Second
	cfg.OutboxFlushBatchSize = envInt("OUTBOX_FLUSH_BATCH_SIZE", cfg.OutboxFlushBatchSize)
	cfg.RetryMaxAttempts = envInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryInitialInterval = time.Duration(envInt("RETRY_INITIAL_INTERVAL_MS", int(cfg.RetryInitialInterval.Milliseconds()))) * time.Millisecond
	cfg.RetryBackoffFactor = envFloat("RETRY_BACKOFF_FACTOR", cfg.RetryBackoffFactor)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.SuppressPaymentRequired = envBool("SUPPRESS_PAYMENT_REQUIRED", cfg.SuppressPaymentRequired)

	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
