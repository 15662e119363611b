package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "INTERVIEW_MIN_QUESTIONS", "INTERVIEW_MAX_QUESTIONS", "SPEECH_SETTLE_DELAY", "SESSION_IDLE_TIMEOUT", "REDIS_ADDR", "OPENAI_API_KEY", "DOCTOR_CHAT_ID"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.Port != "8080" || cfg.MinQuestions != 5 || cfg.MaxQuestions != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SettleDelay != 1200*time.Millisecond || cfg.SnapshotTTL != 30*time.Minute || cfg.IdleTimeout != 2*time.Hour {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.OracleEnabled() || cfg.DoctorChatID != 0 {
		t.Fatalf("oracle and doctor chat must be off by default: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INTERVIEW_MIN_QUESTIONS", "7")
	t.Setenv("INTERVIEW_MAX_QUESTIONS", "3")
	t.Setenv("SPEECH_SETTLE_DELAY", "2s")
	t.Setenv("SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("REDIS_ADDR", "redis://cache:6379")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DOCTOR_CHAT_ID", "-100123")

	cfg := Load()
	if cfg.MinQuestions != 7 || cfg.MaxQuestions != 7 {
		t.Fatalf("max must be raised to min: %d/%d", cfg.MinQuestions, cfg.MaxQuestions)
	}
	if cfg.SettleDelay != 2*time.Second || cfg.IdleTimeout != 45*time.Minute {
		t.Fatalf("settle delay = %v, idle timeout = %v", cfg.SettleDelay, cfg.IdleTimeout)
	}
	if cfg.RedisAddr != "cache:6379" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr)
	}
	if !cfg.OracleEnabled() || cfg.DoctorChatID != -100123 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadClampsMinimum(t *testing.T) {
	t.Setenv("INTERVIEW_MIN_QUESTIONS", "0")
	t.Setenv("INTERVIEW_MAX_QUESTIONS", "")
	if cfg := Load(); cfg.MinQuestions != 1 || cfg.MaxQuestions != 5 {
		t.Fatalf("got %d/%d", cfg.MinQuestions, cfg.MaxQuestions)
	}
}
