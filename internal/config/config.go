// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL        string
	ChainID       int64
	PrivateKey    string // Hex-encoded operator key, with or without 0x prefix
	TokenContract string // Deposit token (18 decimals)
	VaultContract string // Investment vault

	// Vault parameters
	TokenDecimals  int
	MinDeposit     string // Whole-token minimum (e.g. "100")
	MaxDeposit     string
	WithdrawFeeBps int64 // Exit fee on full withdrawals, in basis points

	// Tracing
	OTLPEndpoint string

	// Security
	RateLimitRPM int
}

// BSC testnet defaults
const (
	DefaultRPCURL        = "https://data-seed-prebsc-1-s1.binance.org:8545"
	DefaultChainID       = 97 // BSC testnet
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultTokenDecimals = 18
	DefaultMinDeposit    = "100"
	DefaultMaxDeposit    = "50000"
	DefaultFeeBps        = 200 // 2%
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:         getEnv("RPC_URL", DefaultRPCURL),
		ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:     os.Getenv("PRIVATE_KEY"), // Required, no default
		TokenContract:  os.Getenv("TOKEN_CONTRACT"),
		VaultContract:  os.Getenv("VAULT_CONTRACT"),
		TokenDecimals:  int(getEnvInt64("TOKEN_DECIMALS", DefaultTokenDecimals)),
		MinDeposit:     getEnv("MIN_DEPOSIT", DefaultMinDeposit),
		MaxDeposit:     getEnv("MAX_DEPOSIT", DefaultMaxDeposit),
		WithdrawFeeBps: getEnvInt64("WITHDRAW_FEE_BPS", DefaultFeeBps),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.TokenContract == "" {
		return fmt.Errorf("TOKEN_CONTRACT is required")
	}
	if c.VaultContract == "" {
		return fmt.Errorf("VAULT_CONTRACT is required")
	}

	if c.WithdrawFeeBps < 0 || c.WithdrawFeeBps > 10000 {
		return fmt.Errorf("WITHDRAW_FEE_BPS must be between 0 and 10000")
	}
	if c.TokenDecimals <= 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS must be between 1 and 36")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
