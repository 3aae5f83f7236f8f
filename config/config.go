/*
Package config loads server settings from the environment.

PURPOSE:
  One struct, parsed once at startup. Every field has a default so an empty
  environment runs a working local server. `.env` files are loaded by
  cmd/server before Load runs.

VARIABLES (prefix REWARDS_):
  ADDR, DB_PATH, CATALOG_PATH, CORS_ORIGINS
  CHAT_COOLDOWN, CHAT_HOURLY_CAP, CHAT_CURRENCY, CHAT_XP
  VOICE_COOLDOWN, VOICE_HOURLY_CAP, VOICE_CURRENCY, VOICE_XP,
  VOICE_BOOST_LEVEL, VOICE_BOOST_MULTIPLIER
  DAILY_CURRENCY, DAILY_XP, DAILY_WINDOW, DAILY_GRACE
  SWEEP_SCHEDULE, VOICE_TICK_SCHEDULE
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"github.com/warp/reward-engine/accrual"
	"github.com/warp/reward-engine/rewards"
)

// Config is the full server configuration.
type Config struct {
	Addr        string   `env:"REWARDS_ADDR"         envDefault:":8080"`
	DBPath      string   `env:"REWARDS_DB_PATH"      envDefault:"rewards.db"`
	CatalogPath string   `env:"REWARDS_CATALOG_PATH"`
	CORSOrigins []string `env:"REWARDS_CORS_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173" envSeparator:","`

	Chat  SourceConfig `envPrefix:"REWARDS_CHAT_"`
	Voice VoiceConfig  `envPrefix:"REWARDS_VOICE_"`
	Daily DailyConfig  `envPrefix:"REWARDS_DAILY_"`

	SweepSchedule     string `env:"REWARDS_SWEEP_SCHEDULE"      envDefault:"@every 10m"`
	VoiceTickSchedule string `env:"REWARDS_VOICE_TICK_SCHEDULE" envDefault:"@every 1m"`
}

// SourceConfig is one passive accrual policy.
type SourceConfig struct {
	Cooldown  time.Duration `env:"COOLDOWN"   envDefault:"1m"`
	HourlyCap int64         `env:"HOURLY_CAP" envDefault:"60"`
	Currency  int64         `env:"CURRENCY"   envDefault:"1"`
	XP        int64         `env:"XP"         envDefault:"2"`
}

// VoiceConfig is the voice policy plus its level boost.
type VoiceConfig struct {
	Cooldown        time.Duration `env:"COOLDOWN"         envDefault:"1m"`
	HourlyCap       int64         `env:"HOURLY_CAP"       envDefault:"120"`
	Currency        int64         `env:"CURRENCY"         envDefault:"2"`
	XP              int64         `env:"XP"               envDefault:"3"`
	BoostLevel      int           `env:"BOOST_LEVEL"      envDefault:"25"`
	BoostMultiplier string        `env:"BOOST_MULTIPLIER" envDefault:"2"`
}

type DailyConfig struct {
	Currency int64         `env:"CURRENCY" envDefault:"100"`
	XP       int64         `env:"XP"       envDefault:"50"`
	Window   time.Duration `env:"WINDOW"   envDefault:"24h"`
	Grace    time.Duration `env:"GRACE"    envDefault:"48h"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Policies(); err != nil {
		return nil, err
	}
	if cfg.Daily.Window <= 0 || cfg.Daily.Grace < cfg.Daily.Window {
		return nil, fmt.Errorf("daily grace (%s) must be at least the window (%s)", cfg.Daily.Grace, cfg.Daily.Window)
	}
	return &cfg, nil
}

// Policies converts the chat and voice settings into accrual policies.
func (c *Config) Policies() (map[accrual.Source]accrual.Policy, error) {
	mult, err := decimal.NewFromString(c.Voice.BoostMultiplier)
	if err != nil {
		return nil, fmt.Errorf("voice boost multiplier %q: %w", c.Voice.BoostMultiplier, err)
	}

	policies := map[accrual.Source]accrual.Policy{
		accrual.SourceChat: {
			Cooldown:  c.Chat.Cooldown,
			HourlyCap: c.Chat.HourlyCap,
			Currency:  c.Chat.Currency,
			XP:        c.Chat.XP,
		},
		accrual.SourceVoice: {
			Cooldown:  c.Voice.Cooldown,
			HourlyCap: c.Voice.HourlyCap,
			Currency:  c.Voice.Currency,
			XP:        c.Voice.XP,
			Boost:     &accrual.Boost{MinLevel: c.Voice.BoostLevel, Multiplier: mult},
		},
	}
	for src, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s policy: %w", src, err)
		}
	}
	return policies, nil
}

// DailySettings converts the daily settings for the award service.
func (c *Config) DailySettings() rewards.DailyConfig {
	return rewards.DailyConfig{
		Currency: c.Daily.Currency,
		XP:       c.Daily.XP,
		Window:   c.Daily.Window,
		Grace:    c.Daily.Grace,
	}
}
