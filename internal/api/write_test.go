package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsbridge-io/tsbridge/internal/schema"
)

type fakeIngestor struct {
	batch map[string][]types.Record
	err   error
}

func (f *fakeIngestor) IngestAll(_ context.Context, batch map[string][]types.Record) error {
	f.batch = batch
	return f.err
}

func newTestApp(t *testing.T, ingestor Ingestor) *fiber.App {
	t.Helper()

	builder, err := schema.NewBuilder(schema.MultiTableMultiMeasure, "connector_measure")
	require.NoError(t, err)

	app := fiber.New()
	handler := NewWriteHandler(builder, ingestor, zerolog.Nop())
	handler.RegisterRoutes(app)
	return app
}

func decodeBody(t *testing.T, resp io.Reader) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp).Decode(&body))
	return body
}

func TestWrite_Success(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	payload := "readings,goal=baseline incline=125i 1577836800000"
	req := httptest.NewRequest("POST", "/write", bytes.NewReader([]byte(payload)))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"message": "Success"}, decodeBody(t, resp.Body))

	require.Len(t, ingestor.batch, 1)
	require.Len(t, ingestor.batch["readings"], 1)

	record := ingestor.batch["readings"][0]
	assert.Equal(t, "1577836800000", *record.Time)
	assert.Equal(t, types.TimeUnitNanoseconds, record.TimeUnit)
}

func TestWrite_PrecisionParameter(t *testing.T) {
	tests := []struct {
		query string
		want  types.TimeUnit
	}{
		{"precision=ms", types.TimeUnitMilliseconds},
		{"precision=us", types.TimeUnitMicroseconds},
		{"precision=s", types.TimeUnitSeconds},
		{"precision=ns", types.TimeUnitNanoseconds},
		{"precision=fortnights", types.TimeUnitNanoseconds},
		{"", types.TimeUnitNanoseconds},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ingestor := &fakeIngestor{}
			app := newTestApp(t, ingestor)

			url := "/write"
			if tt.query != "" {
				url += "?" + tt.query
			}
			req := httptest.NewRequest("POST", url, bytes.NewReader([]byte("m v=1i 100")))
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			assert.Equal(t, tt.want, ingestor.batch["m"][0].TimeUnit)
		})
	}
}

func TestWrite_V2Endpoint(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	req := httptest.NewRequest("POST", "/api/v2/write?precision=ms", bytes.NewReader([]byte("m v=1i 100")))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, ingestor.batch, 1)
}

func TestWrite_ParseErrorIsBadRequest(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	req := httptest.NewRequest("POST", "/write", bytes.NewReader([]byte("m v=tree 100")))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp.Body)["error"], "line 1")
	assert.Nil(t, ingestor.batch)
}

func TestWrite_IngestionErrorIsServerError(t *testing.T) {
	ingestor := &fakeIngestor{err: errors.New("write throttled")}
	app := newTestApp(t, ingestor)

	req := httptest.NewRequest("POST", "/write", bytes.NewReader([]byte("m v=1i 100")))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp.Body)["error"], "write throttled")
}

func TestWrite_EmptyBodySucceeds(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	req := httptest.NewRequest("POST", "/write", bytes.NewReader(nil))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, ingestor.batch)
}

func TestWrite_GzipBody(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("m v=1i 100"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	// No Content-Encoding header: compression is detected from the body
	// itself
	req := httptest.NewRequest("POST", "/write", &buf)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, ingestor.batch["m"], 1)
}

func TestWrite_CorruptGzipBody(t *testing.T) {
	ingestor := &fakeIngestor{}
	app := newTestApp(t, ingestor)

	// Gzip magic number followed by garbage
	body := []byte{0x1f, 0x8b, 0xff, 0xff, 0xff, 0xff}
	req := httptest.NewRequest("POST", "/write", bytes.NewReader(body))
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, ingestor.batch)
}
