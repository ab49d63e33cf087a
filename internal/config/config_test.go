package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 5*time.Minute, cfg.BreakerResetTimeout)
	assert.False(t, cfg.Production)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GH_CORE_DATA_DIR", "/tmp/custom-data")
	t.Setenv("GH_CORE_BREAKER_THRESHOLD", "7")
	t.Setenv("GH_CORE_PRODUCTION", "true")
	t.Setenv("GH_CORE_COMMAND_TIMEOUT", "30s")

	cfg := Load()
	assert.Equal(t, "/tmp/custom-data", cfg.DataDir)
	assert.Equal(t, 7, cfg.BreakerThreshold)
	assert.True(t, cfg.Production)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("GH_CORE_BREAKER_THRESHOLD", "not-a-number")
	cfg := Load()
	assert.Equal(t, 3, cfg.BreakerThreshold)
}
