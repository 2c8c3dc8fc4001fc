package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/influx"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/logger"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/progress"
)

type orchestrator struct {
	cfg     Config
	reader  influx.Reader
	mapper  mapping.Mapper
	writer  Writer
	tracker progress.Tracker

	state    State
	counters Counters
}

// New builds an Orchestrator over the given collaborators.
func New(cfg Config, reader influx.Reader, mapper mapping.Mapper, writer Writer, tracker progress.Tracker) (Orchestrator, error) {
	errFactory := errors.New()

	if len(cfg.Domains) == 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "at least one domain is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if !cfg.End.After(cfg.Start) {
		return nil, errFactory.WithData(ErrInvalidConfig, "end must be after start")
	}

	return &orchestrator{
		cfg:     cfg,
		reader:  reader,
		mapper:  mapper,
		writer:  writer,
		tracker: tracker,
		state:   StateInit,
	}, nil
}

func (o *orchestrator) State() State {
	return o.state
}

func (o *orchestrator) Counters() Counters {
	return o.counters
}

// Run processes every pending unit in order. On a unit failure the unit
// stays pending, the state becomes FAILED and the run stops; a later run
// resumes from exactly that unit.
func (o *orchestrator) Run(ctx context.Context) error {
	o.state = StateRunning

	pending, err := o.tracker.Pending(o.cfg.Domains, o.cfg.Start, o.cfg.End)
	if err != nil {
		o.state = StateFailed
		return err
	}

	if len(pending) == 0 {
		logger.Info().Msg("Nothing to migrate, all units already done")
		o.state = StateComplete
		return nil
	}

	logger.Info().
		Int("units", len(pending)).
		Str("first", pending[0].String()).
		Str("last", pending[len(pending)-1].String()).
		Msg("Starting migration")

	for i, unit := range pending {
		logger.Info().
			Str("unit", unit.String()).
			Int("index", i+1).
			Int("total", len(pending)).
			Msg("Processing unit")

		if err := o.migrateUnit(ctx, unit); err != nil {
			o.state = StateFailed
			if markErr := o.tracker.MarkFailed(unit, err.Error()); markErr != nil {
				logger.Error().Err(markErr).Msg("Failed to record unit failure")
			}
			logger.Error().
				Str("unit", unit.String()).
				Err(err).
				Msg("Unit failed, remaining units stay pending")
			return errors.New().Wrap(ErrUnitFailed, err).WithData(unit.String())
		}
	}

	o.state = StateComplete
	o.logSummary()
	return nil
}

// migrateUnit streams one unit, maps records, flushes bounded batches and
// marks the unit done only after its last batch is acknowledged.
func (o *orchestrator) migrateUnit(ctx context.Context, unit progress.Unit) error {
	stream, err := o.reader.QueryWindow(ctx, unit.Domain, unit.Start, unit.End)
	if err != nil {
		return err
	}

	var (
		batch       []mapping.Point
		unitRecords int64
		unitBatches int64
		cursor      = unit.Start
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := o.writer.WriteBatch(ctx, batch)
		if err != nil {
			return err
		}
		o.counters.PointsWritten += int64(written)
		o.counters.BatchesSent++
		unitBatches++
		cursor = time.UnixMilli(batch[len(batch)-1].TimestampMs).UTC()
		batch = batch[:0]

		// Cancellation is honored only at batch boundaries; progress then
		// reflects exactly the batches the destination acknowledged.
		return ctx.Err()
	}

	for stream.Next() {
		rec := stream.Record()
		o.counters.RecordsRead++
		unitRecords++

		points, err := o.mapper.Map(rec)
		if err != nil {
			if o.countMappingOutcome(err) {
				continue
			}
			return err
		}

		batch = append(batch, points...)
		if len(batch) >= o.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}

	return o.tracker.MarkDone(unit, cursor, unitRecords, unitBatches)
}

// countMappingOutcome counts a non-fatal mapping outcome and reports whether
// processing should continue.
func (o *orchestrator) countMappingOutcome(err error) bool {
	switch {
	case errors.HasCode(err, mapping.ErrRecordIgnored):
		o.counters.Skipped++
		return true
	case errors.HasCode(err, mapping.ErrUnmappedRecord):
		o.counters.Unmapped++
		logger.Warn().Err(err).Msg("Record has no mapping rule")
		return true
	case errors.HasCode(err, mapping.ErrUnmappableValue):
		o.counters.Unmappable++
		logger.Warn().Err(err).Msg("Record value cannot be mapped")
		return true
	default:
		// Strict-validation failures and anything unexpected are fatal for
		// the current unit.
		return false
	}
}

// Validate performs the dry-run pass: every pending unit is read and mapped,
// nothing is written and progress never advances. Validation always ends in
// COMPLETE; problems are reported through the counters and the log.
func (o *orchestrator) Validate(ctx context.Context) error {
	o.state = StateValidating

	pending, err := o.tracker.Pending(o.cfg.Domains, o.cfg.Start, o.cfg.End)
	if err != nil {
		o.state = StateFailed
		return err
	}

	logger.Info().Int("units", len(pending)).Msg("Dry-run validation started")

	seen := make(map[string]struct{})

	for _, unit := range pending {
		if err := ctx.Err(); err != nil {
			o.state = StateFailed
			return errors.New().Wrap(ErrCanceled, err)
		}

		if err := o.validateUnit(ctx, unit, seen); err != nil {
			o.state = StateFailed
			return errors.New().Wrap(ErrUnitFailed, err).WithData(unit.String())
		}
	}

	o.state = StateComplete
	o.logSummary()
	return nil
}

func (o *orchestrator) validateUnit(ctx context.Context, unit progress.Unit, seen map[string]struct{}) error {
	stream, err := o.reader.QueryWindow(ctx, unit.Domain, unit.Start, unit.End)
	if err != nil {
		return err
	}

	for stream.Next() {
		rec := stream.Record()
		o.counters.RecordsRead++

		points, err := o.mapper.Map(rec)
		if err != nil {
			if !o.countMappingOutcome(err) {
				// In validation mode strict failures are counted, not fatal.
				o.counters.Unmapped++
				o.reportOnce(seen, rec, err)
			}
			continue
		}

		o.counters.PointsWritten += int64(len(points))
	}

	return stream.Err()
}

// reportOnce logs each unique (domain, unit, field) failure combination a
// single time, so a season of bad records does not flood the log.
func (o *orchestrator) reportOnce(seen map[string]struct{}, rec *mapping.Record, err error) {
	key := fmt.Sprintf("%s|%s|%s", rec.Domain, rec.Unit, rec.Field)
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}

	logger.Warn().
		Str("domain", rec.Domain).
		Str("unit", rec.Unit).
		Str("field", rec.Field).
		Str("entity", rec.EntityID).
		Err(err).
		Msg("Unmapped combination")
}

func (o *orchestrator) logSummary() {
	logger.Info().
		Int64("records_read", o.counters.RecordsRead).
		Int64("points_written", o.counters.PointsWritten).
		Int64("batches_sent", o.counters.BatchesSent).
		Int64("skipped", o.counters.Skipped).
		Int64("unmapped", o.counters.Unmapped).
		Int64("unmappable", o.counters.Unmappable).
		Msg("Migration summary")
}
