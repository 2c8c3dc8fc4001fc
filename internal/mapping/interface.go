package mapping

import "time"

// Record is a single raw data point read from the source store. The Unit
// carries the InfluxDB measurement name, which Home Assistant populates with
// the entity's unit of measurement (e.g. "°C", "%").
type Record struct {
	Timestamp    time.Time
	Domain       string
	EntityID     string
	FriendlyName string
	Unit         string
	Field        string
	Value        float64
	StringValue  string
	Tags         map[string]string
}

// Point is a fully resolved destination data point.
type Point struct {
	Metric      string
	Labels      map[string]string
	Value       float64
	TimestampMs int64
}

// Mapper transforms raw records into destination points according to an
// immutable schema. Map is pure: the same record and schema always produce
// the same points.
type Mapper interface {
	Map(rec *Record) ([]Point, error)
}

// HvacActionField is the string-valued climate field that expands into one
// boolean point per possible action.
const HvacActionField = "hvac_action_str"

// HvacActions is the full action set of the Home Assistant Prometheus
// exporter. Expansion emits one point per action, exactly one valued 1.
var HvacActions = []string{
	"heating", "idle", "cooling", "off", "drying", "fan", "preheating", "defrosting",
}

// HvacActionMetric is the destination metric for expanded climate actions.
const HvacActionMetric = "homeassistant_climate_action"
