package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stagepulse")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10, cfg.WeightBudget)
	assert.True(t, cfg.HardCapBudget)
	assert.Equal(t, 60*time.Second, cfg.RoundDuration)
	assert.Equal(t, 30*24*time.Hour, cfg.DecayWindow)
	assert.Equal(t, 0.01, cfg.DecayPercent)
	assert.Equal(t, 5*time.Second, cfg.BurstWindow)
	assert.Equal(t, 20, cfg.BurstThreshold)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stagepulse")
	t.Setenv("VOTE_WEIGHT_BUDGET", "25")
	t.Setenv("VOTE_HARD_CAP_BUDGET", "false")
	t.Setenv("VOTING_ROUND_DURATION", "90s")
	t.Setenv("REPUTATION_DECAY_PERCENT", "0.05")
	t.Setenv("REACTION_BURST_THRESHOLD", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.WeightBudget)
	assert.False(t, cfg.HardCapBudget)
	assert.Equal(t, 90*time.Second, cfg.RoundDuration)
	assert.Equal(t, 0.05, cfg.DecayPercent)
	assert.Equal(t, 30, cfg.BurstThreshold)
}

func TestLoad_RejectsInvalidDecayPercent(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stagepulse")
	t.Setenv("REPUTATION_DECAY_PERCENT", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPUTATION_DECAY_PERCENT")
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stagepulse")
	t.Setenv("VOTE_WEIGHT_BUDGET", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.WeightBudget)
}
