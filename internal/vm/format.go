package vm

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
)

// FormatPrometheusLine renders a point in the Prometheus text exposition
// format: metric{label="value",...} value timestamp_ms. Labels are emitted
// in sorted key order so output is deterministic.
func FormatPrometheusLine(point *mapping.Point) string {
	var b strings.Builder
	b.WriteString(point.Metric)

	if len(point.Labels) > 0 {
		keys := make([]string, 0, len(point.Labels))
		for k := range point.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(escapeLabelValue(point.Labels[k]))
			b.WriteByte('"')
		}
		b.WriteByte('}')
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(point.Value, 'g', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(point.TimestampMs, 10))

	return b.String()
}

// escapeLabelValue escapes backslashes, quotes and newlines per the
// exposition format. Backslashes first, so later escapes are not doubled.
func escapeLabelValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	value = strings.ReplaceAll(value, "\n", `\n`)
	return value
}
