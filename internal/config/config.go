// Package config loads terminal configuration from the environment. Only
// AUTH_SECRET is mandatory; everything else has a workable default so a dev
// terminal starts with no setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	AllowedOrigin string

	AuthSecret     string
	ManagerPINHash string
	AccessTokenTTL time.Duration

	BackendBaseURL string
	BackendToken   string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	TerminalID          string
	StoreID             string
	DefaultJurisdiction string

	EscalationPollInterval time.Duration
	CommissionRatePercent  int
	HeldCartCapacity       int
	VolumeTierTTL          time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Port:                   getenv("PORT", "8090"),
		AllowedOrigin:          getenv("ALLOWED_ORIGIN", "http://localhost:5173"),
		AuthSecret:             os.Getenv("AUTH_SECRET"),
		ManagerPINHash:         os.Getenv("MANAGER_PIN_HASH"),
		BackendBaseURL:         os.Getenv("BACKEND_BASE_URL"),
		BackendToken:           os.Getenv("BACKEND_TOKEN"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		TerminalID:             getenv("TERMINAL_ID", "term-1"),
		StoreID:                getenv("STORE_ID", "store-1"),
		DefaultJurisdiction:    getenv("DEFAULT_JURISDICTION", "ON"),
		AccessTokenTTL:         time.Duration(getint("ACCESS_TOKEN_TTL_MINUTES", 480)) * time.Minute,
		EscalationPollInterval: time.Duration(getint("ESCALATION_POLL_SECONDS", 10)) * time.Second,
		CommissionRatePercent:  getint("COMMISSION_RATE_PERCENT", 5),
		HeldCartCapacity:       getint("HELD_CART_CAPACITY", 10),
		VolumeTierTTL:          time.Duration(getint("VOLUME_TIER_TTL_SECONDS", 300)) * time.Second,
		RedisDB:                getint("REDIS_DB", 0),
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("AUTH_SECRET is required")
	}
	if len(cfg.AuthSecret) < 32 {
		return Config{}, fmt.Errorf("AUTH_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
