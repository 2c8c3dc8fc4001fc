package influx

import (
	"fmt"
	"strings"
	"time"
)

// defaultFields is the standard Home Assistant value field.
var defaultFields = []string{"value"}

// extendedFields adds the per-domain fields that carry additional
// time-series data beyond the main state value.
var extendedFields = map[string][]string{
	"climate": {"value", "current_temperature", "temperature", "hvac_action_str"},
	"cover":   {"value", "current_position"},
	"light":   {"value", "brightness"},
}

// FieldsForDomain returns the fields queried for a domain.
func FieldsForDomain(domain string, extended bool) []string {
	if extended {
		if fields, ok := extendedFields[domain]; ok {
			return fields
		}
	}
	return defaultFields
}

// buildFluxQuery constructs the windowed query for one domain. The range is
// half-open: records stamped exactly at start are included, records stamped
// exactly at end are not. Results are sorted by time so the stream yields
// records in non-decreasing timestamp order.
func buildFluxQuery(bucket, domain string, start, end time.Time, extended bool) string {
	fields := FieldsForDomain(domain, extended)

	conditions := make([]string, len(fields))
	for i, f := range fields {
		conditions[i] = fmt.Sprintf("r._field == %q", f)
	}
	fieldFilter := strings.Join(conditions, " or ")

	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["domain"] == %q)
  |> filter(fn: (r) => %s)
  |> group()
  |> sort(columns: ["_time"])`,
		bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		domain,
		fieldFilter,
	)
}
