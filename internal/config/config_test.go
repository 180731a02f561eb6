package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsUsable(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Allocation.StartP2.GreaterThan(cfg.Allocation.FullP2.Sub(cfg.Allocation.FullP2)))
	assert.Equal(t, 20, cfg.Inference.BinCount)
	assert.Equal(t, 1000, cfg.Brain.MaxQueueSize)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("WEBHOOK_SECRET", "sekrit")
	os.Setenv("REDIS_DISABLED", "true")
	defer os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("WEBHOOK_SECRET")
	defer os.Unsetenv("REDIS_DISABLED")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sekrit", cfg.Server.WebhookSecret)
	assert.True(t, cfg.RedisDisabled)
}

func TestLoadNATSURLAcceptedButUnused(t *testing.T) {
	os.Setenv("NATS_URL", "nats://localhost:4222")
	defer os.Unsetenv("NATS_URL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}
