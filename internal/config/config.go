package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
)

const (
	DefaultLogLevel  = "info"
	DefaultBatchSize = 10000

	defaultStartDate = "2025-05-01"
	defaultEndDate   = "2025-11-28"

	dateLayout = "2006-01-02"
)

type Config struct {
	DryRun         bool     `mapstructure:"dry_run"`
	Reset          bool     `mapstructure:"reset"`
	Rollback       bool     `mapstructure:"rollback"`
	Domains        []string `mapstructure:"domains"`
	ExtendedFields bool     `mapstructure:"extended_fields"`
	StartDate      string   `mapstructure:"start_date"`
	EndDate        string   `mapstructure:"end_date"`
	BatchSize      int      `mapstructure:"batch_size"`
	StateDB        string   `mapstructure:"state_db"`
	MappingFile    string   `mapstructure:"mapping_file"`
	InfluxURL      string   `mapstructure:"influx_url"`
	InfluxToken    string   `mapstructure:"influx_token"`
	InfluxOrg      string   `mapstructure:"influx_org"`
	InfluxBucket   string   `mapstructure:"influx_bucket"`
	VMURL          string   `mapstructure:"vm_url"`
	LogLevel       string   `mapstructure:"log_level"`
}

// Load reads configuration from flags, an optional TOML config file and
// HA_MIGRATE_* environment variables, in decreasing order of precedence.
func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("ha-migrate", pflag.ContinueOnError)
	flags.Bool("dry-run", false, "Validate mappings without writing data")
	flags.Bool("reset", false, "Reset progress and start fresh")
	flags.Bool("rollback", false, "Delete all previously migrated series and exit")
	flags.String("domains", "", "Comma-separated list of domains to migrate (default: all)")
	flags.Bool("extended-fields", false, "Migrate extended fields for climate, cover and light")
	flags.String("start-date", defaultStartDate, "Migration start date (YYYY-MM-DD, inclusive)")
	flags.String("end-date", defaultEndDate, "Migration end date (YYYY-MM-DD, inclusive)")
	flags.Int("batch-size", DefaultBatchSize, "Number of points per write batch")
	flags.String("state-db", "state/progress.db", "Path to the progress state database")
	flags.String("mapping-file", "SCHEMA_MAPPING.yaml", "Path to the schema mapping file")
	flags.String("influx-url", "http://localhost:8086", "InfluxDB server URL")
	flags.String("influx-token", "", "InfluxDB authentication token")
	flags.String("influx-org", "influxdata", "InfluxDB organization")
	flags.String("influx-bucket", "home-assistant", "InfluxDB bucket to migrate")
	flags.String("vm-url", "http://localhost:8428", "VictoriaMetrics server URL")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindFlag := func(key, name string) error {
		return v.BindPFlag(key, flags.Lookup(name))
	}
	for key, name := range flagKeys() {
		if err := bindFlag(key, name); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("HA_MIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// The original deployment exposed credentials via bare env vars.
	_ = v.BindEnv("influx_token", "HA_MIGRATE_INFLUX_TOKEN", "INFLUX_TOKEN")
	_ = v.BindEnv("influx_url", "HA_MIGRATE_INFLUX_URL", "INFLUX_URL")
	_ = v.BindEnv("vm_url", "HA_MIGRATE_VM_URL", "VM_URL")

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	// The domains flag arrives as a single comma-separated string.
	if raw := v.GetString("domains"); raw != "" {
		config.Domains = splitDomains(raw)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func flagKeys() map[string]string {
	return map[string]string{
		"dry_run":         "dry-run",
		"reset":           "reset",
		"rollback":        "rollback",
		"domains":         "domains",
		"extended_fields": "extended-fields",
		"start_date":      "start-date",
		"end_date":        "end-date",
		"batch_size":      "batch-size",
		"state_db":        "state-db",
		"mapping_file":    "mapping-file",
		"influx_url":      "influx-url",
		"influx_token":    "influx-token",
		"influx_org":      "influx-org",
		"influx_bucket":   "influx-bucket",
		"vm_url":          "vm-url",
		"log_level":       "log-level",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("start_date", defaultStartDate)
	v.SetDefault("end_date", defaultEndDate)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("state_db", "state/progress.db")
	v.SetDefault("mapping_file", "SCHEMA_MAPPING.yaml")
	v.SetDefault("influx_org", "influxdata")
	v.SetDefault("influx_bucket", "home-assistant")
	v.SetDefault("influx_url", "http://localhost:8086")
	v.SetDefault("vm_url", "http://localhost:8428")
}

func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	if path := os.Getenv("HA_MIGRATE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName("ha-migrate")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func splitDomains(raw string) []string {
	parts := strings.Split(raw, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := strings.TrimSpace(p); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.BatchSize <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "batch_size must be positive")
	}

	start, err := c.Start()
	if err != nil {
		return err
	}
	end, err := c.End()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return errFactory.WithData(errors.ErrInvalidDate, "end_date before start_date")
	}

	if c.StateDB == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "state_db")
	}
	if c.InfluxURL == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "influx_url")
	}
	if c.VMURL == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "vm_url")
	}

	return nil
}

// Start returns the configured start date at midnight UTC.
func (c *Config) Start() (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, c.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, errors.New().Wrap(errors.ErrInvalidDate, err)
	}
	return t, nil
}

// End returns the exclusive end of the configured range: midnight UTC of the
// day after end_date, so the whole end day is covered by the half-open range.
func (c *Config) End() (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, c.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, errors.New().Wrap(errors.ErrInvalidDate, err)
	}
	return t.AddDate(0, 0, 1), nil
}
