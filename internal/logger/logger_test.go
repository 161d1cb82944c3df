package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_WritesStructuredFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC).Module("evaluator")
	log.Info("entity evaluated",
		Uint64("entity_id", 7),
		Int("rules", 3),
		Error(errors.New("boom")),
		Duration("took", 2*time.Second))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "entity evaluated", entry["msg"])
	assert.Equal(t, "evaluator", entry["module"])
	assert.InDelta(t, 7, entry["entity_id"], 0)
	assert.Equal(t, "boom", entry["error"])
}

func TestSlogLogger_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelWarn, nil)
	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func TestNewFileLogger_CreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "proactive.log")
	log, closer, err := NewFileLogger(FileConfig{Path: path, MaxSizeMB: 1, Level: LogLevelInfo}, nil)
	require.NoError(t, err)
	log.Info("hello", String("k", "v"))
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}
