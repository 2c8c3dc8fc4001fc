package mapping_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
)

const testSchema = `
labels:
  computed:
    entity:
      template: "{domain}.{entity_id}"
  static:
    job: influxdb-migration
    instance: influxdb-migration
metric_mappings:
  sensor:
    "°C":
      metric: homeassistant_sensor_temperature_celsius
    "%":
      metric: homeassistant_sensor_unit_percent
      special_mapping_required: true
    "lx":
      ignore: true
    "W":
      metric: homeassistant_sensor_power_w
      allow_new: true
  climate:
    "units":
      metric: homeassistant_climate_state
field_mappings:
  climate:
    current_temperature:
      metric: homeassistant_climate_current_temperature_celsius
    temperature:
      metric: homeassistant_climate_temperature_celsius
  light:
    brightness:
      ignore: true
special_mappings:
  "%":
    rules:
      - pattern: battery
        metric: homeassistant_sensor_battery_percent
      - pattern: humidity
        metric: homeassistant_sensor_humidity_percent
      - pattern: signal
        ignore: true
      - pattern: default
        metric: homeassistant_sensor_unit_percent
`

func loadTestSchema(t *testing.T) *mapping.Schema {
	t.Helper()
	schema, err := mapping.LoadSchema([]byte(testSchema))
	require.NoError(t, err)
	return schema
}

func sensorRecord(unit, entityID string, value float64) *mapping.Record {
	return &mapping.Record{
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Domain:       "sensor",
		EntityID:     entityID,
		FriendlyName: "Friendly " + entityID,
		Unit:         unit,
		Field:        "value",
		Value:        value,
	}
}

func TestMapSimpleRecord(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := sensorRecord("°C", "temperature_living_room", 21.5)
	points, err := mapper.Map(rec)
	require.NoError(t, err)
	require.Len(t, points, 1)

	point := points[0]
	assert.Equal(t, "homeassistant_sensor_temperature_celsius", point.Metric)
	assert.InDelta(t, 21.5, point.Value, 0.0001)
	assert.Equal(t, rec.Timestamp.UnixMilli(), point.TimestampMs)
	assert.Equal(t, map[string]string{
		"entity":        "sensor.temperature_living_room",
		"domain":        "sensor",
		"friendly_name": "Friendly temperature_living_room",
		"job":           "influxdb-migration",
		"instance":      "influxdb-migration",
	}, point.Labels)
}

func TestMapIsDeterministic(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))
	rec := sensorRecord("°C", "temperature_living_room", 21.5)

	first, err := mapper.Map(rec)
	require.NoError(t, err)
	second, err := mapper.Map(rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMapAmbiguousUnitBattery(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("%", "phone_battery_level", 80))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "homeassistant_sensor_battery_percent", points[0].Metric)
}

func TestMapAmbiguousUnitHumidity(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("%", "bathroom_humidity", 55))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "homeassistant_sensor_humidity_percent", points[0].Metric)
}

func TestMapAmbiguousUnitCaseInsensitive(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("%", "Phone_BATTERY_Level", 80))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "homeassistant_sensor_battery_percent", points[0].Metric)
}

func TestMapAmbiguousUnitDefault(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	// An unmatched % entity falls back to the default rule, not dropped.
	points, err := mapper.Map(sensorRecord("%", "cpu_load", 12))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "homeassistant_sensor_unit_percent", points[0].Metric)
}

func TestMapAmbiguousUnitIgnoredPattern(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("%", "wifi_signal_strength", 70))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrRecordIgnored))
	assert.Empty(t, points)
}

func TestMapIgnoredUnit(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("lx", "outdoor_illuminance", 5000))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrRecordIgnored))
	assert.Empty(t, points)
}

func TestMapUnmappedRecord(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(sensorRecord("Pa", "barometer", 101325))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrUnmappedRecord))
	assert.Empty(t, points)
}

func TestMapUnknownDomain(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := sensorRecord("°C", "x", 1)
	rec.Domain = "vacuum"
	points, err := mapper.Map(rec)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrUnmappedRecord))
	assert.Empty(t, points)
}

func TestMapFieldMapping(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := &mapping.Record{
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Domain:       "climate",
		EntityID:     "thermostat",
		FriendlyName: "Thermostat",
		Unit:         "units",
		Field:        "current_temperature",
		Value:        20.5,
	}

	points, err := mapper.Map(rec)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "homeassistant_climate_current_temperature_celsius", points[0].Metric)
}

func TestMapIgnoredField(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := &mapping.Record{
		Timestamp: time.Now().UTC(),
		Domain:    "light",
		EntityID:  "kitchen",
		Unit:      "units",
		Field:     "brightness",
		Value:     128,
	}

	_, err := mapper.Map(rec)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrRecordIgnored))
}

func TestMapUnknownField(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := &mapping.Record{
		Timestamp: time.Now().UTC(),
		Domain:    "cover",
		EntityID:  "garage",
		Unit:      "units",
		Field:     "tilt_position",
		Value:     45,
	}

	_, err := mapper.Map(rec)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrUnmappedRecord))
}

func TestMapMissingFriendlyNameFallsBackToEntityID(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	rec := sensorRecord("°C", "temp_attic", 18)
	rec.FriendlyName = ""
	points, err := mapper.Map(rec)
	require.NoError(t, err)
	assert.Equal(t, "temp_attic", points[0].Labels["friendly_name"])
}

func hvacRecord(action string) *mapping.Record {
	return &mapping.Record{
		Timestamp:    time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC),
		Domain:       "climate",
		EntityID:     "living_room",
		FriendlyName: "Living Room",
		Unit:         "units",
		Field:        mapping.HvacActionField,
		StringValue:  action,
	}
}

func TestMapHvacActionExpansion(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(hvacRecord("heating"))
	require.NoError(t, err)
	require.Len(t, points, len(mapping.HvacActions))

	ones := 0
	seen := map[string]bool{}
	for _, point := range points {
		assert.Equal(t, mapping.HvacActionMetric, point.Metric)
		action := point.Labels["action"]
		assert.False(t, seen[action], "duplicate action %q", action)
		seen[action] = true

		switch point.Value {
		case 1.0:
			ones++
			assert.Equal(t, "heating", action)
		case 0.0:
		default:
			t.Fatalf("unexpected value %v for action %q", point.Value, action)
		}

		assert.Equal(t, "climate.living_room", point.Labels["entity"])
		assert.Equal(t, "influxdb-migration", point.Labels["job"])
	}
	assert.Equal(t, 1, ones)
	assert.Len(t, seen, len(mapping.HvacActions))
}

func TestMapHvacActionNormalizesCase(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(hvacRecord("Heating"))
	require.NoError(t, err)
	for _, point := range points {
		if point.Value == 1.0 {
			assert.Equal(t, "heating", point.Labels["action"])
		}
	}
}

func TestMapHvacActionUnknownValue(t *testing.T) {
	mapper := mapping.NewMapper(loadTestSchema(t))

	points, err := mapper.Map(hvacRecord("melting"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrUnmappableValue))
	assert.Empty(t, points)
}

func TestMapStrictValidation(t *testing.T) {
	schema := loadTestSchema(t)
	mapper := mapping.NewMapper(schema, mapping.WithKnownMetrics([]string{
		"homeassistant_sensor_temperature_celsius",
	}))

	// Known metric passes.
	_, err := mapper.Map(sensorRecord("°C", "temp", 20))
	require.NoError(t, err)

	// Unknown metric is rejected.
	_, err = mapper.Map(sensorRecord("%", "phone_battery", 90))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, mapping.ErrUnknownMetric))

	// allow_new bypasses the known-metric check.
	_, err = mapper.Map(sensorRecord("W", "plug_power", 42))
	require.NoError(t, err)
}
