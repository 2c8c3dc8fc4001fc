package progress

import "time"

// Unit is the resumption granularity: one domain over one day window.
// Start is inclusive, End exclusive.
type Unit struct {
	Domain string
	Start  time.Time
	End    time.Time
}

func (u Unit) String() string {
	return u.Domain + "/" + u.Start.UTC().Format("2006-01-02")
}

// Tracker is the durable record of migration cursor state. A unit is never
// marked done before its write has been acknowledged by the destination;
// marking done is idempotent.
type Tracker interface {
	// Pending returns the units of the configured range that are not yet
	// done, in deterministic order: domains as configured, windows
	// chronologically ascending within each domain.
	Pending(domains []string, start, end time.Time) ([]Unit, error)

	// MarkDone durably records a unit as completed up to the given cursor.
	MarkDone(unit Unit, cursor time.Time, records, batches int64) error

	// MarkFailed records a failure for diagnostics. The unit stays pending.
	MarkFailed(unit Unit, message string) error

	// Totals returns the accumulated records and batches across done units.
	Totals() (records, batches int64, err error)

	// Reset clears all state, making every unit pending again. The old
	// state is backed up first.
	Reset() error

	Close() error
}

// Units expands a half-open [start, end) range into day windows for each
// domain, preserving the configured domain order.
func Units(domains []string, start, end time.Time) []Unit {
	var units []Unit
	for _, domain := range domains {
		for day := start.UTC().Truncate(24 * time.Hour); day.Before(end); day = day.AddDate(0, 0, 1) {
			windowEnd := day.AddDate(0, 0, 1)
			if windowEnd.After(end) {
				windowEnd = end
			}
			units = append(units, Unit{Domain: domain, Start: day, End: windowEnd})
		}
	}
	return units
}
