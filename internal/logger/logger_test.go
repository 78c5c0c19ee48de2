package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestZerologLogger_TypedFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewZerologLogger(&buf, LogLevelDebug, nil)

	log.Info("rule fired",
		String("user_id", "u1"),
		Uint64("rule_id", 7),
		Float64("value", 24.5),
		Bool("critical", true),
		Duration("retry_after", 90*time.Second),
		Error(errors.New("boom")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "rule fired", entry["message"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.EqualValues(t, 7, entry["rule_id"])
	assert.InDelta(t, 24.5, entry["value"], 0.0001)
	assert.Equal(t, true, entry["critical"])
	assert.Equal(t, "boom", entry["error"])
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewZerologLogger(&buf, LogLevelWarn, nil)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestZerologLogger_WithAndModule(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewZerologLogger(&buf, LogLevelInfo, nil).
		Module("alerting").
		With(String("evaluation_id", "abc"))

	log.Info("evaluating")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "alerting", lines[0]["component"])
	assert.Equal(t, "abc", lines[0]["evaluation_id"])
}

func TestZerologLogger_NilErrorDropped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewZerologLogger(&buf, LogLevelInfo, nil).Info("ok", Error(nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "error")
}

func TestParseLevel_DefaultsToInfo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "info", ParseLevel("").String())
	assert.Equal(t, "info", ParseLevel("loud").String())
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
}
