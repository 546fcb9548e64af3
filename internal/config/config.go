package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the paper-trading server.
type Config struct {
	Port             int
	LogLevel         string
	OrderTTL         time.Duration
	EvalInterval     time.Duration
	FeedURL          string
	DataDir          string
	JWTSecret        string
	TokenTTL         time.Duration
	StartingBalance  decimal.Decimal
	PlacementRetries int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
// JWT_SECRET has no default and must be set.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	orderTTL, err := getDuration("ORDER_TTL", 1*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_TTL: %w", err)
	}
	if orderTTL <= 0 {
		return nil, fmt.Errorf("invalid ORDER_TTL: must be positive")
	}

	evalInterval, err := getDuration("EVAL_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EVAL_INTERVAL: %w", err)
	}
	if evalInterval <= 0 {
		return nil, fmt.Errorf("invalid EVAL_INTERVAL: must be positive")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	tokenTTL, err := getDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}

	startingBalance, err := getDecimal("STARTING_BALANCE", decimal.NewFromInt(10000))
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: %w", err)
	}
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: must not be negative")
	}

	placementRetries, err := getInt("PLACEMENT_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid PLACEMENT_RETRIES: %w", err)
	}
	if placementRetries < 1 {
		return nil, fmt.Errorf("invalid PLACEMENT_RETRIES: must be at least 1")
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		OrderTTL:         orderTTL,
		EvalInterval:     evalInterval,
		FeedURL:          getStr("FEED_URL", ""),
		DataDir:          getStr("DATA_DIR", ""),
		JWTSecret:        jwtSecret,
		TokenTTL:         tokenTTL,
		StartingBalance:  startingBalance,
		PlacementRetries: placementRetries,
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
