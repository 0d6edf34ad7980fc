package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the planner.
type Config struct {
	TelegramToken        string        `mapstructure:"telegram_token"`
	DatabaseURL          string        `mapstructure:"database_url"`
	Timezone             string        `mapstructure:"timezone"`
	NotificationInterval time.Duration `mapstructure:"notification_interval"`
	ReminderSchedule     string        `mapstructure:"reminder_schedule"`
	DigestTime           string        `mapstructure:"digest_time"`
	WindowSize           int           `mapstructure:"window_size"`
	RemindBeforeMinutes  int           `mapstructure:"remind_before_minutes"`
	ClaimLease           time.Duration `mapstructure:"claim_lease"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_token", "")
	v.SetDefault("database_url", "shared_planner.db")
	v.SetDefault("timezone", "Local")
	v.SetDefault("notification_interval", "5m")
	v.SetDefault("reminder_schedule", "0 * * * * *")
	v.SetDefault("digest_time", "08:00")
	v.SetDefault("window_size", 6)
	v.SetDefault("remind_before_minutes", 30)
	v.SetDefault("claim_lease", "10m")
}

// Load reads the optional YAML file at path, then environment variables
// (TELEGRAM_TOKEN, DATABASE_URL, ...), over the defaults. A missing file is
// not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.DigestTime = strings.TrimSpace(cfg.DigestTime)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the scheduler cannot run with. The Telegram
// token is checked by the commands that need it.
func (c Config) Validate() error {
	if c.NotificationInterval <= 0 {
		return fmt.Errorf("notification_interval must be positive")
	}
	if c.ClaimLease <= 0 {
		return fmt.Errorf("claim_lease must be positive")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	if c.RemindBeforeMinutes <= 0 {
		return fmt.Errorf("remind_before_minutes must be positive")
	}
	if strings.TrimSpace(c.ReminderSchedule) == "" {
		return fmt.Errorf("reminder_schedule is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.DigestTime != "" {
		if _, err := time.Parse("15:04", c.DigestTime); err != nil {
			return fmt.Errorf("invalid digest_time %q, expected HH:MM", c.DigestTime)
		}
	}
	return nil
}

// Location resolves Timezone; "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RequireToken is used by commands that talk to Telegram.
func (c Config) RequireToken() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}
