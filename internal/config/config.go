package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile         string
	AdminAddr      string
	APIAddr        string
	BaseURL        string
	UploadsPath    string
	AuthSecret     string
	TokenExpiry    time.Duration
	OutboundBuffer int
	MaxAvatarBytes int64
	RateLimit      int
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}
	outboundBuffer, err := strconv.Atoi(getEnv("OUTBOUND_BUFFER", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid OUTBOUND_BUFFER: %w", err)
	}
	maxAvatarBytes, err := strconv.ParseInt(getEnv("MAX_AVATAR_BYTES", strconv.Itoa(5<<20)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_AVATAR_BYTES: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}

	cfg := &Config{
		DBFile:         getEnv("GOVORILKA_DB", "govorilka.db"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:        getEnv("API_ADDR", ":8080"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    tokenExpiry,
		OutboundBuffer: outboundBuffer,
		MaxAvatarBytes: maxAvatarBytes,
		RateLimit:      rateLimit,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("OUTBOUND_BUFFER must be greater than 0")
	}

	if c.MaxAvatarBytes <= 0 {
		return fmt.Errorf("MAX_AVATAR_BYTES must be greater than 0")
	}

	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
