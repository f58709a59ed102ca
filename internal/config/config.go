package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Environment string
	LogLevel    string

	Addr           string
	AllowedOrigins []string
	ShutdownGrace  time.Duration

	Store         string
	MongoURI      string
	MongoDatabase string
	// RedisURI is optional; an empty value disables the history cache.
	RedisURI         string
	HistoryCacheSize int
	HistoryCacheTTL  time.Duration

	BcryptCost int

	// Per-connection inbound event budget.
	EventRate  float64
	EventBurst int
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		Environment:      strings.ToLower(strings.TrimSpace(getEnv("ENV", "development"))),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Addr:             getEnv("ADDR", "localhost:3000"),
		AllowedOrigins:   parseList(getEnv("ALLOWED_ORIGINS", "*")),
		Store:            strings.ToLower(getEnv("STORE", StoreMongo)),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "securechat"),
		RedisURI:         getEnv("REDIS_URI", ""),
		HistoryCacheSize: 100,
		HistoryCacheTTL:  time.Hour,
		BcryptCost:       bcrypt.DefaultCost,
		EventRate:        20,
		EventBurst:       40,
		ShutdownGrace:    10 * time.Second,
	}

	var err error
	if cfg.HistoryCacheSize, err = getInt("HISTORY_CACHE_SIZE", cfg.HistoryCacheSize); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", cfg.BcryptCost); err != nil {
		return nil, err
	}
	if cfg.EventBurst, err = getInt("EVENT_BURST", cfg.EventBurst); err != nil {
		return nil, err
	}
	if v := os.Getenv("EVENT_RATE"); v != "" {
		if cfg.EventRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("EVENT_RATE: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Store != StoreMongo && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreMongo, StoreMemory, c.Store)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost)
	}
	if c.HistoryCacheSize <= 0 {
		return fmt.Errorf("HISTORY_CACHE_SIZE must be positive")
	}
	if c.EventRate <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("EVENT_RATE and EVENT_BURST must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
