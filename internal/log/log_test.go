package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Info("week rendered", "segments", 3, "week", "2024-01-01")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "week rendered", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 3, line["segments"])
	assert.Equal(t, "2024-01-01", line["week"])
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Error("persist failed", errors.New("disk full"), "key", "schedule-storage")

	assert.Contains(t, buf.String(), `"error":"disk full"`)
	assert.Contains(t, buf.String(), `"key":"schedule-storage"`)
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Debug("noisy")
	assert.Empty(t, strings.TrimSpace(buf.String()))

	SetLevel(LevelDebug)
	Debug("noisy")
	assert.Contains(t, buf.String(), "noisy")
	SetLevel(LevelInfo)
}

func TestOddKeyValuesIgnored(t *testing.T) {
	got := pairs([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("whatever"))
}
