package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/amhsctl/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	settings, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), settings)
	assert.NoError(t, settings.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amhsctl.yaml")
	content := `
server_url: http://layout.internal:8080
headers:
  X-User: demo
event_bus: kafka
kafka_brokers: ["kafka-1:9092", "kafka-2:9092"]
redis_url: redis://localhost:6379/0
lock_ttl: 5m
pipeline:
  pause: 2s
  side_effect_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, settings.Validate())

	assert.Equal(t, "http://layout.internal:8080", settings.ServerURL)
	assert.Equal(t, map[string]string{"X-User": "demo"}, settings.Headers)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, settings.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, settings.LockTTL)
	assert.Equal(t, 9099, settings.Port)

	require.NotNil(t, settings.Pipeline.Pause)
	assert.Equal(t, 2*time.Second, *settings.Pipeline.Pause)
	require.NotNil(t, settings.Pipeline.SideEffectAttempts)
	assert.Equal(t, uint(5), *settings.Pipeline.SideEffectAttempts)
	assert.Nil(t, settings.Pipeline.StepTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	zero := uint(0)

	tests := []struct {
		name   string
		modify func(*config.Settings)
	}{
		{name: "missing server url", modify: func(s *config.Settings) { s.ServerURL = "" }},
		{name: "relative server url", modify: func(s *config.Settings) { s.ServerURL = "/api" }},
		{name: "port out of range", modify: func(s *config.Settings) { s.Port = 70000 }},
		{name: "unknown log format", modify: func(s *config.Settings) { s.LogFormat = "xml" }},
		{name: "unknown bus", modify: func(s *config.Settings) { s.EventBus = "nats" }},
		{name: "kafka without brokers", modify: func(s *config.Settings) { s.EventBus = "kafka" }},
		{name: "zero side effect attempts", modify: func(s *config.Settings) { s.Pipeline.SideEffectAttempts = &zero }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.Defaults()
			tt.modify(&settings)

			assert.ErrorIs(t, settings.Validate(), config.ErrInvalidSettings)
		})
	}
}
