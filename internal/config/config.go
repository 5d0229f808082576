// Package config loads the pipeline's configuration from a TOML file,
// overlaid with environment variables for values that shouldn't live in
// a checked-in file (principally postgres_conninfo).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/partitionkey"
)

// Config is the single configuration record for the pipeline, with the
// exact field list from spec.md §6.
type Config struct {
	PostgresConninfo     string  `toml:"postgres_conninfo"`
	ReplicationSlot      string  `toml:"replication_slot"`
	OutputPlugin         string  `toml:"output_plugin"`
	Wal2JSONOptionsSQL   string  `toml:"wal2json_options_sql"`
	ReplicationFeedbackS float64 `toml:"replication_feedback_interval_s"`

	LeaderLockKey         int64   `toml:"leader_lock_key"`
	StandbyRetryIntervalS float64 `toml:"standby_retry_interval_s"`

	InflightMaxMessages int `toml:"inflight_max_messages"`
	InflightMaxBytes    int `toml:"inflight_max_bytes"`

	KinesisStream           string `toml:"kinesis_stream"`
	AWSRegion               string `toml:"aws_region"`
	KinesisBatchMaxRecords  int    `toml:"kinesis_batch_max_records"`
	KinesisBatchMaxBytes    int    `toml:"kinesis_batch_max_bytes"`
	KinesisBatchMaxDelayMS  int    `toml:"kinesis_batch_max_delay_ms"`
	KinesisRetryBaseDelayMS int    `toml:"kinesis_retry_base_delay_ms"`
	KinesisRetryMaxDelayMS  int    `toml:"kinesis_retry_max_delay_ms"`
	KinesisRetryMaxAttempts int    `toml:"kinesis_retry_max_attempts"`

	PartitionKeyMode        partitionkey.Mode     `toml:"partition_key_mode"`
	PartitionKeyStaticValue string                `toml:"partition_key_static_value"`
	PartitionKeyFallback    partitionkey.Fallback `toml:"partition_key_fallback"`
	PartitionKeyRRBuckets   []string              `toml:"partition_key_roundrobin_buckets"`
}

// defaults applies the spec-mandated defaults for fields that were left
// zero by the file/environment.
func (c *Config) defaults() {
	if c.OutputPlugin == "" {
		c.OutputPlugin = "wal2json"
	}
	if c.ReplicationFeedbackS == 0 {
		c.ReplicationFeedbackS = 60
	}
}

// Load parses path as TOML into a Config, then overlays the
// CDC_POSTGRES_CONNINFO environment variable (when set) onto
// postgres_conninfo, applies defaults, and validates required fields.
// No other field is read from the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if v := os.Getenv("CDC_POSTGRES_CONNINFO"); v != "" {
		cfg.PostgresConninfo = v
	}

	cfg.defaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PostgresConninfo == "" {
		return fmt.Errorf("config: postgres_conninfo is required")
	}
	if c.ReplicationSlot == "" {
		return fmt.Errorf("config: replication_slot is required")
	}
	if c.KinesisStream == "" {
		return fmt.Errorf("config: kinesis_stream is required")
	}
	if c.LeaderLockKey == 0 {
		return fmt.Errorf("config: leader_lock_key is required")
	}
	if c.InflightMaxMessages <= 0 || c.InflightMaxBytes <= 0 {
		return fmt.Errorf("config: inflight_max_messages and inflight_max_bytes must be positive")
	}
	if c.PartitionKeyMode == partitionkey.ModeStatic && c.PartitionKeyStaticValue == "" {
		return fmt.Errorf("config: partition_key_static_value is required for static mode")
	}
	return nil
}

// FeedbackInterval returns ReplicationFeedbackS as a time.Duration.
func (c *Config) FeedbackInterval() time.Duration {
	return time.Duration(c.ReplicationFeedbackS * float64(time.Second))
}

// StandbyRetryInterval returns StandbyRetryIntervalS as a time.Duration.
func (c *Config) StandbyRetryInterval() time.Duration {
	return time.Duration(c.StandbyRetryIntervalS * float64(time.Second))
}

// KinesisBatchMaxDelay returns KinesisBatchMaxDelayMS as a time.Duration.
func (c *Config) KinesisBatchMaxDelay() time.Duration {
	return time.Duration(c.KinesisBatchMaxDelayMS) * time.Millisecond
}

// KinesisRetryBaseDelay returns KinesisRetryBaseDelayMS as a time.Duration.
func (c *Config) KinesisRetryBaseDelay() time.Duration {
	return time.Duration(c.KinesisRetryBaseDelayMS) * time.Millisecond
}

// KinesisRetryMaxDelay returns KinesisRetryMaxDelayMS as a time.Duration.
func (c *Config) KinesisRetryMaxDelay() time.Duration {
	return time.Duration(c.KinesisRetryMaxDelayMS) * time.Millisecond
}
