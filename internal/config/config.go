package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string

	DatabaseURL string
	RedisURL    string

	JWTSecret string

	CacheTTL          time.Duration
	DedupTTL          time.Duration
	RunLockTTL        time.Duration
	LeaderboardSize   int
	ScheduleInterval  int // minutes
	RankSurgeMinSwing int
	TotalQuizModules  int
	RateLimitSync     time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret: getEnv("JWT_SECRET", "12345"),
	}

	var err error
	cfg.CacheTTL, err = parseDuration(getEnv("CACHE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.DedupTTL, err = parseDuration(getEnv("EVENT_DEDUP_TTL", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_DEDUP_TTL: %w", err)
	}
	cfg.RunLockTTL, err = parseDuration(getEnv("RECALC_LOCK_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECALC_LOCK_TTL: %w", err)
	}
	cfg.RateLimitSync, err = parseDuration(getEnv("RATE_LIMIT_SYNC", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SYNC: %w", err)
	}

	cfg.LeaderboardSize, err = parseInt(getEnv("LEADERBOARD_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEADERBOARD_SIZE: %w", err)
	}
	cfg.ScheduleInterval, err = parseInt(getEnv("SCHEDULE_INTERVAL_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_INTERVAL_MINUTES: %w", err)
	}
	cfg.RankSurgeMinSwing, err = parseInt(getEnv("RANK_SURGE_MIN_SWING", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RANK_SURGE_MIN_SWING: %w", err)
	}
	cfg.TotalQuizModules, err = parseInt(getEnv("TOTAL_QUIZ_MODULES", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOTAL_QUIZ_MODULES: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
