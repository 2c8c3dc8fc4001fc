package migrate

import (
	"context"
	"time"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateInit       State = "init"
	StateValidating State = "validating"
	StateRunning    State = "running"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Counters are the end-of-run summary counts.
type Counters struct {
	RecordsRead   int64
	PointsWritten int64
	BatchesSent   int64
	Skipped       int64
	Unmapped      int64
	Unmappable    int64
}

// Writer is the destination the orchestrator flushes batches to.
type Writer interface {
	WriteBatch(ctx context.Context, points []mapping.Point) (int, error)
}

// Config bounds one migration run.
type Config struct {
	Domains   []string
	Start     time.Time // inclusive
	End       time.Time // exclusive
	BatchSize int
}

// Orchestrator drives the migration: for each pending unit, read, map,
// buffer, flush and advance progress.
type Orchestrator interface {
	// Run migrates every pending unit in order. The first unit failure is
	// fatal: the unit stays pending and the run stops.
	Run(ctx context.Context) error

	// Validate maps every pending unit's records without writing anything
	// or advancing progress, and reports would-be-written volumes.
	Validate(ctx context.Context) error

	State() State
	Counters() Counters
}
