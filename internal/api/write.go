package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/tsbridge-io/tsbridge/internal/lineprotocol"
	"github.com/tsbridge-io/tsbridge/internal/schema"
)

// Pool for gzip readers - avoids allocating the decompression state per
// request under compressed write load
var gzipReaderPool = sync.Pool{}

// Ingestor writes a batch map to the store. Satisfied by
// *timestream.Ingestor.
type Ingestor interface {
	IngestAll(ctx context.Context, batch map[string][]types.Record) error
}

// WriteHandler handles InfluxDB-compatible line protocol write requests and
// drives the parse → build → ingest pipeline.
type WriteHandler struct {
	parser   *lineprotocol.Parser
	builder  schema.Builder
	ingestor Ingestor
	logger   zerolog.Logger

	// Stats
	totalRequests atomic.Int64
	totalMetrics  atomic.Int64
	totalBytes    atomic.Int64
	totalErrors   atomic.Int64
}

// NewWriteHandler creates a new write handler.
func NewWriteHandler(builder schema.Builder, ingestor Ingestor, logger zerolog.Logger) *WriteHandler {
	return &WriteHandler{
		parser:   lineprotocol.NewParser(),
		builder:  builder,
		ingestor: ingestor,
		logger:   logger.With().Str("component", "write-handler").Logger(),
	}
}

// RegisterRoutes registers the write routes.
func (h *WriteHandler) RegisterRoutes(app *fiber.App) {
	// InfluxDB 1.x compatible endpoint
	app.Post("/write", h.Write)

	// InfluxDB 2.x compatible endpoint
	app.Post("/api/v2/write", h.Write)

	// Stats endpoint
	app.Get("/api/v1/write/stats", h.Stats)
}

// Write ingests a line protocol payload into Timestream.
//
// The optional "precision" query parameter selects the timestamp unit:
// ms, us or s; any other value, or none, means nanoseconds. The raw request
// body is the line protocol text, optionally gzip-compressed.
func (h *WriteHandler) Write(c *fiber.Ctx) error {
	h.totalRequests.Add(1)
	requestID := uuid.New().String()
	logger := h.logger.With().Str("request_id", requestID).Logger()

	body, err := h.requestBody(c)
	if err != nil {
		h.totalErrors.Add(1)
		logger.Warn().Err(err).Msg("Failed to read request body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.totalBytes.Add(int64(len(body)))

	precision := precisionFromQuery(c.Query("precision"))

	metrics, err := h.parser.Parse(body)
	if err != nil {
		h.totalErrors.Add(1)
		logger.Warn().Err(err).Msg("Failed to parse line protocol")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("failed to parse line protocol: %s", err),
		})
	}
	h.totalMetrics.Add(int64(len(metrics)))

	batch, err := h.builder.BuildRecords(metrics, precision)
	if err != nil {
		h.totalErrors.Add(1)
		logger.Error().Err(err).Msg("Failed to build records")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.ingestor.IngestAll(c.Context(), batch); err != nil {
		h.totalErrors.Add(1)
		logger.Error().Err(err).Msg("Ingestion failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	logger.Debug().
		Int("metrics", len(metrics)).
		Int("tables", len(batch)).
		Msg("Payload ingested")

	return c.JSON(fiber.Map{
		"message": "Success",
	})
}

// Stats returns handler statistics.
func (h *WriteHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"requests_total": h.totalRequests.Load(),
		"metrics_total":  h.totalMetrics.Load(),
		"bytes_total":    h.totalBytes.Load(),
		"errors_total":   h.totalErrors.Load(),
	})
}

// requestBody returns the raw payload, decompressing gzip bodies.
// Compression is detected by the gzip magic number (0x1f 0x8b) rather than
// the Content-Encoding header, so payloads a middleware already inflated
// pass through untouched.
func (h *WriteHandler) requestBody(c *fiber.Ctx) ([]byte, error) {
	body := c.Body()
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}

	const maxDecompressedSize = 100 * 1024 * 1024

	var reader *gzip.Reader
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		if err := reader.Reset(bytes.NewReader(body)); err != nil {
			gzipReaderPool.Put(reader)
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
	} else {
		var err error
		reader, err = gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
	}
	defer gzipReaderPool.Put(reader)

	decompressed, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body: %w", err)
	}
	if len(decompressed) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", maxDecompressedSize)
	}
	return decompressed, nil
}

// precisionFromQuery maps the precision query value to a Timestream time
// unit. Unrecognized or absent values mean nanoseconds.
func precisionFromQuery(precision string) types.TimeUnit {
	switch precision {
	case "ms":
		return types.TimeUnitMilliseconds
	case "us":
		return types.TimeUnitMicroseconds
	case "s":
		return types.TimeUnitSeconds
	default:
		return types.TimeUnitNanoseconds
	}
}
