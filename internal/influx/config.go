package influx

import (
	"time"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
)

// Large historical queries can take minutes to stream.
const defaultRequestTimeout = 5 * time.Minute

type Config struct {
	URL            string
	Token          string
	Org            string
	Bucket         string
	ExtendedFields bool
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Org:            "influxdata",
		Bucket:         "home-assistant",
		RequestTimeout: defaultRequestTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.URL == "" {
		return errFactory.WithData(ErrInvalidConfig, "url is required")
	}
	if c.Org == "" {
		return errFactory.WithData(ErrInvalidConfig, "org is required")
	}
	if c.Bucket == "" {
		return errFactory.WithData(ErrInvalidConfig, "bucket is required")
	}
	return nil
}
