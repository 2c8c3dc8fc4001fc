package vm

import (
	"time"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
)

const (
	defaultBatchSize      = 10000
	defaultRequestTimeout = 30 * time.Second
	defaultHealthTimeout  = 5 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
)

type Config struct {
	URL            string
	DryRun         bool
	BatchSize      int
	RequestTimeout time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      defaultBatchSize,
		RequestTimeout: defaultRequestTimeout,
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.URL == "" {
		return errFactory.WithData(ErrInvalidConfig, "url is required")
	}
	if c.BatchSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	return nil
}
