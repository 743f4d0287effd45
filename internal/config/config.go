// Package config loads and validates tsbridge configuration.
//
// Configuration is read once at process start from tsbridge.toml and
// TSBRIDGE_* environment variables into an immutable Config struct that is
// passed into every component; nothing reads ambient process state after
// Load returns.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Partition key types accepted by Timestream.
const (
	PartitionKeyTypeDimension = "dimension"
	PartitionKeyTypeMeasure   = "measure"
)

// Config holds all configuration for tsbridge.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Timestream TimestreamConfig
	Ingest     IngestConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
}

type LogConfig struct {
	Level  string
	Format string
}

// TimestreamConfig describes the destination store and the provisioning
// policy for missing databases/tables.
type TimestreamConfig struct {
	Region   string
	Endpoint string // Custom endpoint override (local/dev stacks)
	Database string

	// Static credentials (optional; default AWS credential chain otherwise)
	AccessKey string
	SecretKey string

	EnableDatabaseCreation bool
	EnableTableCreation    bool

	// Table creation properties; required when EnableTableCreation is set
	MagStoreRetentionDays  int64 // Magnetic store retention period in days
	MemStoreRetentionHours int64 // Memory store retention period in hours
	EnableMagStoreWrites   bool

	// Custom composite partition key (optional)
	PartitionKeyType      string // "dimension" or "measure", empty for none
	PartitionKeyDimension string // Dimension name, required for "dimension"
	PartitionKeyEnforce   *bool  // Required(true)/Optional(false), required for "dimension"

	// Measure name stamped on every multi-measure record
	MeasureName string
}

type IngestConfig struct {
	MaxConcurrentBatches int64 // Global ceiling on in-flight Timestream calls
	WriteTimeoutSeconds  int   // Per WriteRecords call timeout; 0 disables
}

// Load loads configuration from environment and config file.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("TSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("tsbridge")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tsbridge/")
	v.AddConfigPath("$HOME/.tsbridge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Timestream: TimestreamConfig{
			Region:                 v.GetString("timestream.region"),
			Endpoint:               v.GetString("timestream.endpoint"),
			Database:               v.GetString("timestream.database"),
			AccessKey:              v.GetString("timestream.access_key"),
			SecretKey:              v.GetString("timestream.secret_key"),
			EnableDatabaseCreation: v.GetBool("timestream.enable_database_creation"),
			EnableTableCreation:    v.GetBool("timestream.enable_table_creation"),
			MagStoreRetentionDays:  v.GetInt64("timestream.mag_store_retention_period"),
			MemStoreRetentionHours: v.GetInt64("timestream.mem_store_retention_period"),
			EnableMagStoreWrites:   v.GetBool("timestream.enable_mag_store_writes"),
			PartitionKeyType:       strings.ToLower(v.GetString("timestream.partition_key_type")),
			PartitionKeyDimension:  v.GetString("timestream.partition_key_dimension"),
			MeasureName:            v.GetString("timestream.measure_name"),
		},
		Ingest: IngestConfig{
			MaxConcurrentBatches: v.GetInt64("ingest.max_concurrent_batches"),
			WriteTimeoutSeconds:  v.GetInt("ingest.write_timeout"),
		},
	}

	// Tri-state: only set when explicitly configured, so Validate can
	// distinguish "optional" from "absent"
	if v.IsSet("timestream.enforce_partition_key") {
		enforce := v.GetBool("timestream.enforce_partition_key")
		cfg.Timestream.PartitionKeyEnforce = &enforce
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("timestream.region", "")
	v.SetDefault("timestream.database", "")
	v.SetDefault("timestream.enable_database_creation", false)
	v.SetDefault("timestream.enable_table_creation", false)
	v.SetDefault("timestream.mag_store_retention_period", 0)
	v.SetDefault("timestream.mem_store_retention_period", 0)
	v.SetDefault("timestream.enable_mag_store_writes", false)
	v.SetDefault("timestream.measure_name", "")

	v.SetDefault("ingest.max_concurrent_batches", 16)
	v.SetDefault("ingest.write_timeout", 30)
}

// Validate checks the configuration for missing or contradictory settings.
// It runs once at startup, before any component is constructed.
func (c *Config) Validate() error {
	ts := &c.Timestream

	if ts.Region == "" {
		return fmt.Errorf("timestream.region is required")
	}
	if ts.Database == "" {
		return fmt.Errorf("timestream.database is required")
	}
	if ts.MeasureName == "" {
		return fmt.Errorf("timestream.measure_name is required")
	}

	if ts.EnableTableCreation {
		if ts.MagStoreRetentionDays <= 0 {
			return fmt.Errorf("timestream.mag_store_retention_period is required when table creation is enabled")
		}
		if ts.MemStoreRetentionHours <= 0 {
			return fmt.Errorf("timestream.mem_store_retention_period is required when table creation is enabled")
		}
	}

	switch ts.PartitionKeyType {
	case "":
		// No custom partition key
	case PartitionKeyTypeMeasure:
		// Timestream rejects a dimension name or enforcement level on a
		// measure-type key store-side; fail early here instead
		if ts.PartitionKeyDimension != "" {
			return fmt.Errorf("timestream.partition_key_dimension must not be set when partition_key_type is %q", PartitionKeyTypeMeasure)
		}
		if ts.PartitionKeyEnforce != nil {
			return fmt.Errorf("timestream.enforce_partition_key must not be set when partition_key_type is %q", PartitionKeyTypeMeasure)
		}
	case PartitionKeyTypeDimension:
		if ts.PartitionKeyDimension == "" {
			return fmt.Errorf("timestream.partition_key_dimension is required when partition_key_type is %q", PartitionKeyTypeDimension)
		}
		if ts.PartitionKeyEnforce == nil {
			return fmt.Errorf("timestream.enforce_partition_key is required when partition_key_type is %q", PartitionKeyTypeDimension)
		}
	default:
		return fmt.Errorf("timestream.partition_key_type can only be %q or %q", PartitionKeyTypeDimension, PartitionKeyTypeMeasure)
	}

	if c.Ingest.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("ingest.max_concurrent_batches must be positive")
	}

	return nil
}
