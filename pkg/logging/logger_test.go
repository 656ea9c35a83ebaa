package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: InfoLevel, Output: &buf, ServiceName: "api", Environment: "test"})

	logger.Named("pipeline").Info("Submission accepted", "hash", "abc", "ledger", 42)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "Submission accepted", entry["msg"])
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "abc", entry["hash"])
	assert.EqualValues(t, 42, entry["ledger"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: WarnLevel, Output: &buf})

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: DebugLevel, Output: &buf})

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	logger.WithContext(ctx).Debug("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestOddArgsArePadded(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: InfoLevel, Output: &buf})

	logger.Info("odd", "key")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "", entry["key"])
}
