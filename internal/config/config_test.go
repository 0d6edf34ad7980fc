package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NotificationInterval != 5*time.Minute {
		t.Errorf("NotificationInterval = %v, want 5m", cfg.NotificationInterval)
	}
	if cfg.WindowSize != 6 || cfg.RemindBeforeMinutes != 30 {
		t.Errorf("unexpected window defaults: size=%d lead=%d", cfg.WindowSize, cfg.RemindBeforeMinutes)
	}
	if cfg.ClaimLease != 10*time.Minute {
		t.Errorf("ClaimLease = %v, want 10m", cfg.ClaimLease)
	}
	if cfg.ReminderSchedule != "0 * * * * *" {
		t.Errorf("ReminderSchedule = %q", cfg.ReminderSchedule)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	content := []byte("database_url: data/planner.db\ntimezone: Europe/Berlin\nwindow_size: 4\nnotification_interval: 1m\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("TELEGRAM_TOKEN", "  secret  ")
	t.Setenv("WINDOW_SIZE", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL != "data/planner.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.NotificationInterval != time.Minute {
		t.Errorf("NotificationInterval = %v, want 1m", cfg.NotificationInterval)
	}
	if cfg.WindowSize != 8 {
		t.Errorf("environment should win over file: WindowSize = %d", cfg.WindowSize)
	}
	if cfg.TelegramToken != "secret" {
		t.Errorf("TelegramToken = %q", cfg.TelegramToken)
	}
	if err := cfg.RequireToken(); err != nil {
		t.Errorf("RequireToken() = %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Failed to resolve location: %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Location() = %s", loc)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Timezone:             "UTC",
		NotificationInterval: time.Minute,
		ReminderSchedule:     "0 * * * * *",
		DigestTime:           "08:00",
		WindowSize:           6,
		RemindBeforeMinutes:  30,
		ClaimLease:           time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad digest time", func(c *Config) { c.DigestTime = "8am" }},
		{"zero interval", func(c *Config) { c.NotificationInterval = 0 }},
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"zero lead", func(c *Config) { c.RemindBeforeMinutes = 0 }},
		{"zero lease", func(c *Config) { c.ClaimLease = 0 }},
		{"empty reminder schedule", func(c *Config) { c.ReminderSchedule = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}

	noDigest := valid
	noDigest.DigestTime = ""
	if err := noDigest.Validate(); err != nil {
		t.Errorf("empty digest time should disable the digest, got %v", err)
	}
	if err := (Config{}).RequireToken(); err == nil {
		t.Errorf("expected missing token error")
	}
}
