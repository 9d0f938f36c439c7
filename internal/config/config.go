package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	PerTxLimit    decimal.Decimal
	DailyLimit    decimal.Decimal
	IdemTTL       time.Duration
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	perTx, err := decimalEnv("TRANSFER_PER_TX_LIMIT", "100000.00")
	if err != nil {
		return nil, err
	}
	daily, err := decimalEnv("TRANSFER_DAILY_LIMIT", "500000.00")
	if err != nil {
		return nil, err
	}
	idemTTL, err := durationEnv("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	sweep, err := durationEnv("SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:      dbSource,
		Port:          port,
		Env:           env,
		PerTxLimit:    perTx,
		DailyLimit:    daily,
		IdemTTL:       idemTTL,
		SweepInterval: sweep,
	}, nil
}

func decimalEnv(name, fallback string) (decimal.Decimal, error) {
	raw := os.Getenv(name)
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal amount: %w", name, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like \"24h\": %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}
