package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HEARTBEAT_TIMEOUT", "")
	t.Setenv("SCHEDULE_RETENTION_DAYS", "")

	cfg := Load()
	if cfg.HeartbeatTimeout != 120*time.Second {
		t.Errorf("HeartbeatTimeout = %s, want 2m0s", cfg.HeartbeatTimeout)
	}
	if cfg.AbandonAfter != time.Hour {
		t.Errorf("AbandonAfter = %s, want 1h", cfg.AbandonAfter)
	}
	if cfg.RetentionWindow != 240*time.Hour {
		t.Errorf("RetentionWindow = %s, want 240h", cfg.RetentionWindow)
	}
	if cfg.DefaultViolationLimit != 5 {
		t.Errorf("DefaultViolationLimit = %d, want 5", cfg.DefaultViolationLimit)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	if got := getEnvDuration("X_DUR", time.Second); got != 90*time.Second {
		t.Errorf("duration string: got %s", got)
	}
	t.Setenv("X_DUR", "45")
	if got := getEnvDuration("X_DUR", time.Second); got != 45*time.Second {
		t.Errorf("plain seconds: got %s", got)
	}
	t.Setenv("X_DUR", "soon")
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("fallback: got %s", got)
	}
}

func TestParseOrigins(t *testing.T) {
	if parseOrigins("") != nil {
		t.Error("empty input should allow all origins")
	}
	got := parseOrigins(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("parseOrigins = %v", got)
	}
}
