package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceID != "M15-Usage-Settlement-Service" {
		t.Fatalf("unexpected service id: %s", cfg.ServiceID)
	}
	if cfg.EventDedupTTL != 7*24*time.Hour || cfg.CheckpointTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttl defaults: dedup=%v checkpoint=%v", cfg.EventDedupTTL, cfg.CheckpointTTL)
	}
	if cfg.SnapshotCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected snapshot cache ttl default: %v", cfg.SnapshotCacheTTL)
	}
	if cfg.ConsumerPollInterval != 2*time.Second || cfg.OutboxFlushBatchSize != 100 {
		t.Fatalf("unexpected worker defaults: poll=%v batch=%d", cfg.ConsumerPollInterval, cfg.OutboxFlushBatchSize)
	}
}

func TestLoadConfigAppliesFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
service:
  id: settlement-test
  http_port: 18080
settlement:
  threshold: 250
  pending_claim_ttl_minutes: 30
  event_dedup_ttl_hours: 48
  checkpoint_ttl_hours: 24
  snapshot_cache_ttl_seconds: 60
  consumer_poll_seconds: 5
  outbox_flush_batch_size: 25
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceID != "settlement-test" || cfg.HTTPPort != 18080 {
		t.Fatalf("service section not applied: id=%s port=%d", cfg.ServiceID, cfg.HTTPPort)
	}
	if cfg.SettlementThreshold != 250 || cfg.PendingClaimTTL != 30*time.Minute {
		t.Fatalf("settlement section not applied: threshold=%v ttl=%v", cfg.SettlementThreshold, cfg.PendingClaimTTL)
	}
	if cfg.EventDedupTTL != 48*time.Hour {
		t.Fatalf("event_dedup_ttl_hours not applied: %v", cfg.EventDedupTTL)
	}
	if cfg.CheckpointTTL != 24*time.Hour {
		t.Fatalf("checkpoint_ttl_hours not applied: %v", cfg.CheckpointTTL)
	}
	if cfg.SnapshotCacheTTL != time.Minute {
		t.Fatalf("snapshot_cache_ttl_seconds not applied: %v", cfg.SnapshotCacheTTL)
	}
	if cfg.ConsumerPollInterval != 5*time.Second {
		t.Fatalf("consumer_poll_seconds not applied: %v", cfg.ConsumerPollInterval)
	}
	if cfg.OutboxFlushBatchSize != 25 {
		t.Fatalf("outbox_flush_batch_size not applied: %d", cfg.OutboxFlushBatchSize)
	}
}
