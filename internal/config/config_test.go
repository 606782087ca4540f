package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env
	for _, k := range []string{"VSERVE_STORE", "VSERVE_SERVER_PORT", "VSERVE_CORS_ORIGINS", "VSERVE_SWEEP_EXPIRED", "MAIL_TRANSPORT"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, StoreSurreal, cfg.Store)
	assert.Equal(t, 8484, cfg.ServerPort)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.False(t, cfg.SweepExpired)
	assert.Equal(t, "@every 60s", cfg.SweepSchedule)
	assert.Equal(t, MailSMTP, cfg.MailTransport)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VSERVE_STORE", "Redis")
	t.Setenv("VSERVE_SERVER_PORT", "9000")
	t.Setenv("VSERVE_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("VSERVE_SWEEP_EXPIRED", "true")
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.SweepExpired)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLogLevel(in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("ticket approved", "ticket_id", "t1")

	assert.Contains(t, stderr.String(), "ticket_id=t1")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "ticket approved", entry["msg"])
	assert.Equal(t, "t1", entry["ticket_id"])
}

func TestSetupLoggerEmptyFile(t *testing.T) {
	logger, cleanup := SetupLogger("", slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
