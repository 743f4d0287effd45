package timestream

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsbridge-io/tsbridge/internal/config"
)

func newTestProvisioner(client WriteClient) *Provisioner {
	p := NewProvisioner(client, zerolog.Nop())
	p.wait = 0 // no rate-limit sleeps in tests
	return p
}

func notFoundErr() error {
	return &types.ResourceNotFoundException{Message: aws.String("does not exist")}
}

func TestDatabaseExists(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		p := newTestProvisioner(&fakeWriteClient{})
		exists, err := p.DatabaseExists(context.Background(), "db")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("not found is not an error", func(t *testing.T) {
		client := &fakeWriteClient{
			describeDatabaseFn: func(*timestreamwrite.DescribeDatabaseInput) error {
				return notFoundErr()
			},
		}
		p := newTestProvisioner(client)
		exists, err := p.DatabaseExists(context.Background(), "db")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("transport failure propagates", func(t *testing.T) {
		client := &fakeWriteClient{
			describeDatabaseFn: func(*timestreamwrite.DescribeDatabaseInput) error {
				return errors.New("connection reset")
			},
		}
		p := newTestProvisioner(client)
		_, err := p.DatabaseExists(context.Background(), "db")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db")
	})
}

func TestEnsureDatabase(t *testing.T) {
	t.Run("creates missing database when enabled", func(t *testing.T) {
		client := &fakeWriteClient{
			describeDatabaseFn: func(*timestreamwrite.DescribeDatabaseInput) error {
				return notFoundErr()
			},
		}
		p := newTestProvisioner(client)
		require.NoError(t, p.EnsureDatabase(context.Background(), "db", true))
		assert.Equal(t, 1, client.createDBCalls)
	})

	t.Run("missing database with creation disabled is terminal", func(t *testing.T) {
		client := &fakeWriteClient{
			describeDatabaseFn: func(*timestreamwrite.DescribeDatabaseInput) error {
				return notFoundErr()
			},
		}
		p := newTestProvisioner(client)
		err := p.EnsureDatabase(context.Background(), "db", false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResourceMissing)
		assert.Contains(t, err.Error(), "db")
		assert.Zero(t, client.createDBCalls)
	})

	t.Run("existing database creates nothing", func(t *testing.T) {
		client := &fakeWriteClient{}
		p := newTestProvisioner(client)
		require.NoError(t, p.EnsureDatabase(context.Background(), "db", true))
		assert.Zero(t, client.createDBCalls)
	})
}

func TestEnsureTable(t *testing.T) {
	missingTable := func() *fakeWriteClient {
		return &fakeWriteClient{
			describeTableFn: func(*timestreamwrite.DescribeTableInput) error {
				return notFoundErr()
			},
		}
	}

	t.Run("creates missing table with retention properties", func(t *testing.T) {
		client := missingTable()
		p := newTestProvisioner(client)

		tc := TableConfig{
			MagStoreRetentionDays:  365,
			MemStoreRetentionHours: 24,
			EnableMagStoreWrites:   true,
		}
		require.NoError(t, p.EnsureTable(context.Background(), "db", "cpu", tc, true))

		require.Len(t, client.createTblCalls, 1)
		input := client.createTblCalls[0]
		assert.Equal(t, "db", *input.DatabaseName)
		assert.Equal(t, "cpu", *input.TableName)
		assert.Equal(t, int64(365), *input.RetentionProperties.MagneticStoreRetentionPeriodInDays)
		assert.Equal(t, int64(24), *input.RetentionProperties.MemoryStoreRetentionPeriodInHours)
		assert.True(t, *input.MagneticStoreWriteProperties.EnableMagneticStoreWrites)
		assert.Nil(t, input.Schema)
	})

	t.Run("dimension partition key carries name and enforcement", func(t *testing.T) {
		client := missingTable()
		p := newTestProvisioner(client)

		enforce := true
		tc := TableConfigFrom(config.TimestreamConfig{
			MagStoreRetentionDays:  30,
			MemStoreRetentionHours: 12,
			PartitionKeyType:       config.PartitionKeyTypeDimension,
			PartitionKeyDimension:  "host",
			PartitionKeyEnforce:    &enforce,
		})
		require.NoError(t, p.EnsureTable(context.Background(), "db", "cpu", tc, true))

		require.Len(t, client.createTblCalls, 1)
		schema := client.createTblCalls[0].Schema
		require.NotNil(t, schema)
		require.Len(t, schema.CompositePartitionKey, 1)

		key := schema.CompositePartitionKey[0]
		assert.Equal(t, types.PartitionKeyTypeDimension, key.Type)
		assert.Equal(t, "host", *key.Name)
		assert.Equal(t, types.PartitionKeyEnforcementLevelRequired, key.EnforcementInRecord)
	})

	t.Run("measure partition key carries neither name nor enforcement", func(t *testing.T) {
		client := missingTable()
		p := newTestProvisioner(client)

		tc := TableConfigFrom(config.TimestreamConfig{
			MagStoreRetentionDays:  30,
			MemStoreRetentionHours: 12,
			PartitionKeyType:       config.PartitionKeyTypeMeasure,
		})
		require.NoError(t, p.EnsureTable(context.Background(), "db", "cpu", tc, true))

		key := client.createTblCalls[0].Schema.CompositePartitionKey[0]
		assert.Equal(t, types.PartitionKeyTypeMeasure, key.Type)
		assert.Nil(t, key.Name)
		assert.Empty(t, key.EnforcementInRecord)
	})

	t.Run("missing table with creation disabled is terminal", func(t *testing.T) {
		client := missingTable()
		p := newTestProvisioner(client)
		err := p.EnsureTable(context.Background(), "db", "cpu", TableConfig{}, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResourceMissing)
		assert.Contains(t, err.Error(), "cpu")
	})
}
