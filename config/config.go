package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
)

type Config struct {
	Port string

	StoreBackend StoreBackend
	RedisURL     string
	DatabaseURL  string

	SettlementURL      string
	SettlementToken    string
	SettlementAttempts int
	SettlementBackoff  time.Duration

	TurnTimeout  time.Duration
	MatchTimeout time.Duration

	ArchiveEnabled    bool
	CloudflareAccount string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, reading environment variables directly")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:              getenv("PORT", "8080"),
		StoreBackend:      StoreBackend(strings.ToLower(getenv("STORE_BACKEND", string(StoreMemory)))),
		RedisURL:          os.Getenv("REDIS_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SettlementURL:     os.Getenv("SETTLEMENT_URL"),
		SettlementToken:   os.Getenv("SETTLEMENT_TOKEN"),
		CloudflareAccount: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
	}

	var err error
	if cfg.TurnTimeout, err = duration("TURN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchTimeout, err = duration("MATCH_TIMEOUT", 3*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SettlementBackoff, err = duration("SETTLEMENT_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SettlementAttempts, err = integer("SETTLEMENT_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ArchiveEnabled, err = boolean("ARCHIVE_ENABLED", false); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.SettlementAttempts < 1 {
		return nil, fmt.Errorf("SETTLEMENT_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolean(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
