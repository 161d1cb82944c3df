package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/logger"
)

func loadSettings(t *testing.T, extra string) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	body := "log:\n  level: error\n" +
		"database:\n  type: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "proactive.db") + "\n" +
		"api:\n  listen: 127.0.0.1:0\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	settings, err := conf.Load(path)
	require.NoError(t, err)
	return settings
}

func TestApp_RunOnceOnEmptyDatabase(t *testing.T) {
	t.Parallel()

	settings := loadSettings(t, "")
	a, err := New(t.Context(), settings, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Migrate(t.Context()))

	res, err := a.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.NotEmpty(t, res.JobID)

	job, err := a.Repos.Jobs.GetJob(t.Context(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, entities.JobCompleted, job.Status)
}

func TestApp_RedisLease(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	settings := loadSettings(t, "redis:\n  enabled: true\n  addr: "+mr.Addr()+"\n")

	a, err := New(t.Context(), settings, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Migrate(t.Context()))

	_, err = a.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Empty(t, mr.Keys(), "lease must be released after the run")
}

func TestApp_RedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	settings := loadSettings(t, "redis:\n  enabled: true\n  addr: "+addr+"\n")
	_, err := New(t.Context(), settings, logger.Discard())
	require.Error(t, err)
}

func TestApp_RegistersEnabledChannels(t *testing.T) {
	t.Parallel()

	settings := loadSettings(t, "push:\n  enabled: true\n  url: generic://example.com/hook\n"+
		"twilio:\n  enabled: true\n  account_sid: AC123\n  auth_token: secret\n  from: \"+15550000000\"\n  whatsapp_from: \"+15550000001\"\n")
	a, err := New(t.Context(), settings, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.InApp)
	assert.NotNil(t, a.Hub)
}

func TestApp_ServesHealth(t *testing.T) {
	t.Parallel()

	settings := loadSettings(t, "")
	a, err := New(t.Context(), settings, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec := httptest.NewRecorder()
	a.Server.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}
