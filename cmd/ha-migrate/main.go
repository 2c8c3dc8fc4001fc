package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/config"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/influx"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/logger"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/migrate"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/progress"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/vm"
)

const migrationJobLabel = "influxdb-migration"

// defaultDomains covers the Home Assistant domains present in the source
// bucket when no explicit filter is configured.
var defaultDomains = []string{"sensor", "binary_sensor", "climate", "cover", "light", "switch"}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if cfg.DryRun {
		logger.Info().Msg("Mode: dry-run (validation only, no writes)")
	} else {
		logger.Info().Msg("Mode: production (will write data)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	writerCfg := vm.DefaultConfig()
	writerCfg.URL = cfg.VMURL
	writerCfg.DryRun = cfg.DryRun
	writerCfg.BatchSize = cfg.BatchSize

	writer, err := vm.NewWriter(writerCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize VictoriaMetrics writer")
		return 1
	}
	defer writer.Close()

	if cfg.Rollback {
		return rollback(ctx, writer)
	}

	tracker, err := progress.NewTracker(cfg.StateDB)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open progress state")
		return 1
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close progress state")
		}
	}()

	if cfg.Reset {
		logger.Info().Msg("Resetting progress")
		if err := tracker.Reset(); err != nil {
			logger.Error().Err(err).Msg("Failed to reset progress")
			return 1
		}
	}

	schema, err := mapping.LoadSchemaFile(cfg.MappingFile)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load schema mapping")
		return 1
	}

	if !cfg.DryRun {
		if err := writer.HealthCheck(ctx); err != nil {
			logger.Error().Err(err).Msg("VictoriaMetrics health check failed")
			return 1
		}
		logger.Info().Msg("VictoriaMetrics is healthy")
	}

	knownMetrics, err := writer.FetchMetricNames(ctx, "homeassistant_.*")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch known metrics from VictoriaMetrics")
		return 1
	}
	mapper := mapping.NewMapper(schema, mapping.WithKnownMetrics(knownMetrics))

	readerCfg := influx.DefaultConfig()
	readerCfg.URL = cfg.InfluxURL
	readerCfg.Token = cfg.InfluxToken
	readerCfg.Org = cfg.InfluxOrg
	readerCfg.Bucket = cfg.InfluxBucket
	readerCfg.ExtendedFields = cfg.ExtendedFields

	reader, err := influx.NewReader(readerCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to InfluxDB")
		return 1
	}
	defer reader.Close()

	start, err := cfg.Start()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid start date")
		return 1
	}
	end, err := cfg.End()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid end date")
		return 1
	}

	domains := cfg.Domains
	if len(domains) == 0 {
		domains = defaultDomains
	}

	orch, err := migrate.New(migrate.Config{
		Domains:   domains,
		Start:     start,
		End:       end,
		BatchSize: cfg.BatchSize,
	}, reader, mapper, writer, tracker)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize orchestrator")
		return 1
	}

	if cfg.DryRun {
		err = orch.Validate(ctx)
	} else {
		err = orch.Run(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Str("state", string(orch.State())).Msg("Migration failed")
		return 1
	}

	counters := orch.Counters()
	logger.Info().
		Str("state", string(orch.State())).
		Int64("records_read", counters.RecordsRead).
		Int64("points_written", counters.PointsWritten).
		Msg("Done")

	return 0
}

// rollback deletes every series written by a previous migration run.
func rollback(ctx context.Context, writer *vm.Writer) int {
	logger.Warn().
		Str("job", migrationJobLabel).
		Msg("Rolling back: deleting all migrated series")

	if err := writer.DeleteByLabel(ctx, "job", migrationJobLabel); err != nil {
		logger.Error().Err(err).Msg("Rollback failed")
		return 1
	}

	logger.Info().Msg("Rollback complete")
	return 0
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal, stopping at next batch boundary")
	cancel()
}
