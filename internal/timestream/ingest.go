package timestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// MaxWriteBatchSize is the maximum number of records Timestream accepts in
// a single WriteRecords call.
const MaxWriteBatchSize = 100

// DefaultMaxConcurrentBatches bounds in-flight Timestream calls when no
// limit is configured.
const DefaultMaxConcurrentBatches = 16

// IngestorConfig holds configuration for creating an Ingestor.
type IngestorConfig struct {
	Database string

	// EnsureDatabase/EnsureTable enable on-demand provisioning of missing
	// resources before writing
	EnsureDatabase bool
	EnsureTable    bool
	TableConfig    TableConfig

	MaxConcurrentBatches int64
	WriteTimeout         time.Duration // per WriteRecords call; 0 disables
}

// Ingestor writes batches of records to Timestream, fanning out across
// tables and chunks under a single global concurrency ceiling.
type Ingestor struct {
	client      WriteClient
	provisioner *Provisioner
	cfg         IngestorConfig
	logger      zerolog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(client WriteClient, provisioner *Provisioner, cfg IngestorConfig, logger zerolog.Logger) *Ingestor {
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	return &Ingestor{
		client:      client,
		provisioner: provisioner,
		cfg:         cfg,
		logger:      logger.With().Str("component", "ingestor").Logger(),
	}
}

// IngestAll writes every table's records. Database provisioning (when
// enabled) runs once, synchronously, before any table work; each table is
// then processed independently and concurrently. All spawned work is always
// drained before returning; the first failure observed wins and later
// failures are not reported individually.
func (ing *Ingestor) IngestAll(ctx context.Context, batch map[string][]types.Record) error {
	if len(batch) == 0 {
		return nil
	}

	if ing.cfg.EnsureDatabase {
		if err := ing.provisioner.EnsureDatabase(ctx, ing.cfg.Database, true); err != nil {
			return err
		}
	}

	// One permit pool for the whole call: table setup units and chunk
	// writers across all tables compete for the same slots, so total
	// in-flight outbound calls never exceed the ceiling
	sem := semaphore.NewWeighted(ing.cfg.MaxConcurrentBatches)

	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))

	for table, records := range batch {
		wg.Add(1)
		go func(table string, records []types.Record) {
			defer wg.Done()
			errCh <- ing.ingestTable(ctx, sem, table, records)
		}(table, records)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// ingestTable provisions the table if enabled, then writes its records in
// chunks of at most MaxWriteBatchSize. Chunks are submitted in input order
// but may complete out of order.
func (ing *Ingestor) ingestTable(ctx context.Context, sem *semaphore.Weighted, table string, records []types.Record) error {
	if ing.cfg.EnsureTable {
		// The describe/create round-trips count against the global
		// ceiling too. The permit is released before chunk dispatch:
		// holding it across dispatch would park every table unit once
		// tables outnumber permits, starving the chunk writers.
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		err := ing.provisioner.EnsureTable(ctx, ing.cfg.Database, table, ing.cfg.TableConfig, true)
		sem.Release(1)
		if err != nil {
			return err
		}
	}

	chunks := chunkRecords(records, MaxWriteBatchSize)

	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))

	for _, chunk := range chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			errCh <- err
			break
		}

		wg.Add(1)
		go func(chunk []types.Record) {
			defer wg.Done()
			err := ing.writeChunk(ctx, table, chunk)
			// Release before the outcome is recorded, success or not
			sem.Release(1)
			errCh <- err
		}(chunk)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}

	ing.logger.Debug().
		Str("table", table).
		Int("records", len(records)).
		Int("chunks", len(chunks)).
		Msg("Table batch ingested")
	return nil
}

// writeChunk performs one WriteRecords call for a chunk of at most
// MaxWriteBatchSize records.
func (ing *Ingestor) writeChunk(ctx context.Context, table string, chunk []types.Record) error {
	if ing.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ing.cfg.WriteTimeout)
		defer cancel()
	}

	_, err := ing.client.WriteRecords(ctx, &timestreamwrite.WriteRecordsInput{
		DatabaseName: aws.String(ing.cfg.Database),
		TableName:    aws.String(table),
		Records:      chunk,
	})
	if err != nil {
		return fmt.Errorf("write %d records to table %q: %w", len(chunk), table, err)
	}
	return nil
}

// chunkRecords splits records into consecutive chunks of at most size
// records; only the last chunk may be smaller.
func chunkRecords(records []types.Record, size int) [][]types.Record {
	var chunks [][]types.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
