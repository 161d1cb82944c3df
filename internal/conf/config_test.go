package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	settings, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", settings.Log.Level)
	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, 50, settings.Worker.BatchSize)
	assert.Equal(t, 30*time.Second, settings.Worker.EvaluationTimeout.Std())
	assert.Equal(t, 100, settings.Notification.QueueBatchSize)
	assert.Equal(t, 3, settings.Notification.MaxRetries)
	assert.Equal(t, 24*time.Hour, settings.Notification.ExpireAfter.Std())
	assert.True(t, settings.Realtime.Enabled)
}

func TestLoad_FileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
worker:
  batch_size: 20
  evaluation_timeout: 5s
  interval: 120
notification:
  expire_after: 2h
`)
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, settings.Worker.BatchSize)
	assert.Equal(t, 5*time.Second, settings.Worker.EvaluationTimeout.Std())
	assert.Equal(t, 2*time.Minute, settings.Worker.Interval.Std())
	assert.Equal(t, 2*time.Hour, settings.Notification.ExpireAfter.Std())
}

// Not parallel: uses process environment.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROACTIVE_WORKER_CONCURRENCY", "3")

	settings, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, settings.Worker.Concurrency)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		return &Settings{
			Database:     DatabaseSettings{Type: "sqlite"},
			Worker:       WorkerSettings{BatchSize: 50, Concurrency: 1, EvaluationTimeout: Duration(time.Second), Interval: Duration(time.Minute)},
			Notification: NotificationSettings{QueueBatchSize: 100},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"unknown database", func(s *Settings) { s.Database.Type = "oracle" }},
		{"zero batch", func(s *Settings) { s.Worker.BatchSize = 0 }},
		{"zero timeout", func(s *Settings) { s.Worker.EvaluationTimeout = 0 }},
		{"mqtt without broker", func(s *Settings) { s.Sensors.MQTT.Enabled = true }},
		{"push without url", func(s *Settings) { s.Push.Enabled = true }},
		{"twilio without credentials", func(s *Settings) { s.Twilio.Enabled = true }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}
