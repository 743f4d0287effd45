package timestream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/rs/zerolog"

	"github.com/tsbridge-io/tsbridge/internal/config"
)

// Timestream allows at most one database/table creation or deletion API
// call per second.
const creationWait = 1 * time.Second

// ErrResourceMissing marks a database or table that does not exist while
// auto-creation for it is disabled.
var ErrResourceMissing = errors.New("resource does not exist")

// TableConfig holds the table creation properties. Retention and magnetic
// store settings are always supplied on creation; the composite partition
// key only when a custom partition key type was configured.
type TableConfig struct {
	MagStoreRetentionDays  int64
	MemStoreRetentionHours int64
	EnableMagStoreWrites   bool

	PartitionKeyType      *types.PartitionKeyType
	PartitionKeyDimension *string
	PartitionKeyEnforce   *types.PartitionKeyEnforcementLevel
}

// TableConfigFrom maps validated service configuration to the table
// creation properties.
func TableConfigFrom(cfg config.TimestreamConfig) TableConfig {
	tc := TableConfig{
		MagStoreRetentionDays:  cfg.MagStoreRetentionDays,
		MemStoreRetentionHours: cfg.MemStoreRetentionHours,
		EnableMagStoreWrites:   cfg.EnableMagStoreWrites,
	}

	switch cfg.PartitionKeyType {
	case config.PartitionKeyTypeDimension:
		keyType := types.PartitionKeyTypeDimension
		tc.PartitionKeyType = &keyType
		tc.PartitionKeyDimension = aws.String(cfg.PartitionKeyDimension)
		level := types.PartitionKeyEnforcementLevelOptional
		if cfg.PartitionKeyEnforce != nil && *cfg.PartitionKeyEnforce {
			level = types.PartitionKeyEnforcementLevelRequired
		}
		tc.PartitionKeyEnforce = &level
	case config.PartitionKeyTypeMeasure:
		// A measure-type key carries neither a dimension name nor an
		// enforcement level; Timestream rejects them
		keyType := types.PartitionKeyTypeMeasure
		tc.PartitionKeyType = &keyType
	}

	return tc
}

// Provisioner verifies and creates Timestream databases and tables.
type Provisioner struct {
	client WriteClient
	logger zerolog.Logger
	wait   time.Duration
}

// NewProvisioner creates a Provisioner on top of a write client.
func NewProvisioner(client WriteClient, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		client: client,
		logger: logger.With().Str("component", "provisioner").Logger(),
		wait:   creationWait,
	}
}

// DatabaseExists checks whether the database exists. A not-found response
// is (false, nil); transport and auth failures propagate as errors.
func (p *Provisioner) DatabaseExists(ctx context.Context, name string) (bool, error) {
	_, err := p.client.DescribeDatabase(ctx, &timestreamwrite.DescribeDatabaseInput{
		DatabaseName: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("describe database %q: %w", name, err)
	}
	return true, nil
}

// TableExists checks whether the table exists in the database.
func (p *Provisioner) TableExists(ctx context.Context, database, table string) (bool, error) {
	_, err := p.client.DescribeTable(ctx, &timestreamwrite.DescribeTableInput{
		DatabaseName: aws.String(database),
		TableName:    aws.String(table),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("describe table %q.%q: %w", database, table, err)
	}
	return true, nil
}

// CreateDatabase creates the database. The rate-limit sleep runs
// unconditionally before the call, once per creation attempt.
func (p *Provisioner) CreateDatabase(ctx context.Context, name string) error {
	time.Sleep(p.wait)

	p.logger.Info().Str("database", name).Msg("Creating database")
	_, err := p.client.CreateDatabase(ctx, &timestreamwrite.CreateDatabaseInput{
		DatabaseName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

// CreateTable creates the table with the given creation properties. The
// rate-limit sleep runs unconditionally before the call.
func (p *Provisioner) CreateTable(ctx context.Context, database, table string, tc TableConfig) error {
	time.Sleep(p.wait)

	p.logger.Info().
		Str("database", database).
		Str("table", table).
		Msg("Creating table")

	input := &timestreamwrite.CreateTableInput{
		DatabaseName: aws.String(database),
		TableName:    aws.String(table),
		RetentionProperties: &types.RetentionProperties{
			MagneticStoreRetentionPeriodInDays: aws.Int64(tc.MagStoreRetentionDays),
			MemoryStoreRetentionPeriodInHours:  aws.Int64(tc.MemStoreRetentionHours),
		},
		MagneticStoreWriteProperties: &types.MagneticStoreWriteProperties{
			EnableMagneticStoreWrites: aws.Bool(tc.EnableMagStoreWrites),
		},
	}

	if tc.PartitionKeyType != nil {
		key := types.PartitionKey{Type: *tc.PartitionKeyType}
		if tc.PartitionKeyDimension != nil {
			key.Name = tc.PartitionKeyDimension
		}
		if tc.PartitionKeyEnforce != nil {
			key.EnforcementInRecord = *tc.PartitionKeyEnforce
		}
		input.Schema = &types.Schema{
			CompositePartitionKey: []types.PartitionKey{key},
		}
	}

	if _, err := p.client.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("create table %q.%q: %w", database, table, err)
	}
	return nil
}

// EnsureDatabase verifies the database exists, creating it when missing and
// createIfMissing is set. A missing database without creation enabled is an
// ErrResourceMissing.
func (p *Provisioner) EnsureDatabase(ctx context.Context, name string, createIfMissing bool) error {
	exists, err := p.DatabaseExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !createIfMissing {
		return fmt.Errorf("database %q: %w and database creation is not enabled", name, ErrResourceMissing)
	}
	return p.CreateDatabase(ctx, name)
}

// EnsureTable verifies the table exists, creating it when missing and
// createIfMissing is set.
func (p *Provisioner) EnsureTable(ctx context.Context, database, table string, tc TableConfig, createIfMissing bool) error {
	exists, err := p.TableExists(ctx, database, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !createIfMissing {
		return fmt.Errorf("table %q: %w and table creation is not enabled", table, ErrResourceMissing)
	}
	return p.CreateTable(ctx, database, table, tc)
}
