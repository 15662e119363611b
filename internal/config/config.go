package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	DatabaseURL string
	RedisAddr   string
	SnapshotTTL time.Duration

	// Analysis oracle
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	ModelVersion  string

	// Interview
	MinQuestions int
	MaxQuestions int
	SettleDelay  time.Duration
	IdleTimeout  time.Duration

	// Speech
	STTURL            string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Doctor report
	TelegramToken string
	DoctorChatID  int64
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Load reads all env vars and builds the config
func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		SnapshotTTL: getDurationEnv("SNAPSHOT_TTL", 30*time.Minute),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ModelVersion:  getEnv("ORACLE_MODEL_VERSION", "clinical-v1"),

		MinQuestions: getIntEnv("INTERVIEW_MIN_QUESTIONS", 5),
		MaxQuestions: getIntEnv("INTERVIEW_MAX_QUESTIONS", 5),
		SettleDelay:  getDurationEnv("SPEECH_SETTLE_DELAY", 1200*time.Millisecond),
		IdleTimeout:  getDurationEnv("SESSION_IDLE_TIMEOUT", 2*time.Hour),

		STTURL:            getEnv("STT_URL", "http://tts:8000/transcribe"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
	cfg.DoctorChatID, _ = strconv.ParseInt(os.Getenv("DOCTOR_CHAT_ID"), 10, 64)

	if cfg.MinQuestions < 1 {
		cfg.MinQuestions = 1
	}
	if cfg.MaxQuestions < cfg.MinQuestions {
		cfg.MaxQuestions = cfg.MinQuestions
	}
	// Redis URIs from compose files come with the scheme attached.
	if len(cfg.RedisAddr) > 8 && cfg.RedisAddr[:8] == "redis://" {
		cfg.RedisAddr = cfg.RedisAddr[8:]
	}

	return cfg
}

// OracleEnabled reports whether a real analysis backend is configured.
func (c *Config) OracleEnabled() bool {
	return c.OpenAIKey != ""
}
