package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", &buf).With("encryption_secret", "cw_0x689RpI")

	logger.Info("request sealed",
		"path", "/api/cart/add_to_cart",
		"payload", "Z0FBQUFB...",
		slog.Group("headers", "Authorization", "Bearer abc", "Accept", "application/json"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "/api/cart/add_to_cart", entry["path"])
	assert.Equal(t, redactedValue, entry["payload"])
	assert.Equal(t, redactedValue, entry["encryption_secret"])

	headers, ok := entry["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedValue, headers["Authorization"])
	assert.Equal(t, "application/json", headers["Accept"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}
