package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reward-engine/accrual"
	"github.com/warp/reward-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "rewards.db", cfg.DBPath)
	assert.Len(t, cfg.CORSOrigins, 2)
	assert.Equal(t, "@every 1m", cfg.VoiceTickSchedule)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, accrual.DefaultPolicies()[accrual.SourceChat], policies[accrual.SourceChat])

	voice := policies[accrual.SourceVoice]
	assert.Equal(t, int64(120), voice.HourlyCap)
	require.NotNil(t, voice.Boost)
	assert.Equal(t, 25, voice.Boost.MinLevel)
	assert.Equal(t, "2", voice.Boost.Multiplier.String())

	daily := cfg.DailySettings()
	assert.Equal(t, int64(100), daily.Currency)
	assert.Equal(t, 24*time.Hour, daily.Window)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REWARDS_ADDR", ":9000")
	t.Setenv("REWARDS_CHAT_COOLDOWN", "30s")
	t.Setenv("REWARDS_VOICE_BOOST_MULTIPLIER", "1.5")
	t.Setenv("REWARDS_CORS_ORIGINS", "https://dash.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.Chat.Cooldown)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.CORSOrigins)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, "1.5", policies[accrual.SourceVoice].Boost.Multiplier.String())
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string][2]string{
		"bad duration":   {"REWARDS_CHAT_COOLDOWN", "soon"},
		"zero cap":       {"REWARDS_CHAT_HOURLY_CAP", "0"},
		"bad multiplier": {"REWARDS_VOICE_BOOST_MULTIPLIER", "double"},
		"short grace":    {"REWARDS_DAILY_GRACE", "1h"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
