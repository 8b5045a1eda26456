package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1000, cfg.Transfer.LogCapacity)
	assert.Equal(t, 10, cfg.Transfer.StatusLogTail)
	assert.Zero(t, cfg.Transfer.VerifyTolerance)
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
	assert.Empty(t, cfg.Schedules)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
  shutdown_timeout: 1m
  cors_origins: ["https://ui.example.com"]
log:
  level: debug
  format: json
transfer:
  verify_tolerance: 5
database:
  connect_timeout: 3s
schedules:
  - name: nightly-orders
    cron: "0 2 * * *"
    request:
      source_db: {host: src, database: app, user: reader, password: secret}
      dest_db: {host: dwh, database: warehouse, user: loader}
      transfer_config:
        table_name: orders
        transfer_mode: daily
        batch_size: 20000
        verify_transfer: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.EqualValues(t, 5, cfg.Transfer.VerifyTolerance)
	assert.Equal(t, 3*time.Second, cfg.Database.ConnectTimeout)

	require.Len(t, cfg.Schedules, 1)
	s := cfg.Schedules[0]
	assert.Equal(t, "nightly-orders", s.Name)
	assert.Equal(t, "0 2 * * *", s.Cron)
	assert.Equal(t, "src", s.Request.Source.Host)
	assert.Equal(t, "secret", s.Request.Source.Password)
	assert.Equal(t, "orders", s.Request.Config.TableName)
	assert.Equal(t, "daily", s.Request.Config.Mode)
	assert.Equal(t, 20000, s.Request.Config.BatchSize)
	require.NotNil(t, s.Request.Config.VerifyTransfer)
	assert.False(t, *s.Request.Config.VerifyTransfer)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9100\n")
	t.Setenv("PGTRANSFER_SERVER_PORT", "9200")
	t.Setenv("PGTRANSFER_TRANSFER_STATUS_LOG_TAIL", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Transfer.StatusLogTail)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"port":           "server:\n  port: 70000\n",
		"log level":      "log:\n  level: loud\n",
		"log format":     "log:\n  format: xml\n",
		"log capacity":   "transfer:\n  log_capacity: 0\n",
		"tolerance":      "transfer:\n  verify_tolerance: -1\n",
		"schedule name":  "schedules:\n  - cron: \"@daily\"\n",
		"schedule cron":  "schedules:\n  - name: a\n",
		"duplicate name": "schedules:\n  - {name: a, cron: \"@daily\"}\n  - {name: a, cron: \"@hourly\"}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
