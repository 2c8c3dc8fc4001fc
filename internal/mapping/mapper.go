package mapping

import (
	"fmt"
	"strings"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
)

type mapper struct {
	schema *Schema

	// knownMetrics is the destination's live metric-name index. When nil,
	// strict validation is disabled and any resolved name is accepted.
	knownMetrics map[string]struct{}
}

// Option configures a Mapper.
type Option func(*mapper)

// WithKnownMetrics enables strict validation: a resolved metric name must be
// present in the given set unless its rule carries allow_new.
func WithKnownMetrics(names []string) Option {
	return func(m *mapper) {
		m.knownMetrics = make(map[string]struct{}, len(names))
		for _, n := range names {
			m.knownMetrics[n] = struct{}{}
		}
	}
}

// NewMapper builds a Mapper over an immutable schema.
func NewMapper(schema *Schema, opts ...Option) Mapper {
	m := &mapper{schema: schema}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map transforms one raw record into zero or more destination points.
// Outcomes that produce no points are reported as typed errors so the caller
// can count them: ErrRecordIgnored (rule says skip), ErrUnmappedRecord (no
// rule matches), ErrUnmappableValue (string value outside the known set) and
// ErrUnknownMetric (strict validation failure).
func (m *mapper) Map(rec *Record) ([]Point, error) {
	if rec.Field == HvacActionField {
		return m.expandHvacAction(rec)
	}

	metric, rule, err := m.resolveMetric(rec)
	if err != nil {
		return nil, err
	}

	if err := m.validateMetric(metric, rule, rec); err != nil {
		return nil, err
	}

	return []Point{{
		Metric:      metric,
		Labels:      m.buildLabels(rec, nil),
		Value:       rec.Value,
		TimestampMs: rec.Timestamp.UnixMilli(),
	}}, nil
}

// expandHvacAction fans a climate action string out into one boolean point
// per possible action, exactly one of which is 1.
func (m *mapper) expandHvacAction(rec *Record) ([]Point, error) {
	errFactory := errors.New()

	action := strings.ToLower(rec.StringValue)
	if !isKnownHvacAction(action) {
		return nil, errFactory.WithData(ErrUnmappableValue, fmt.Sprintf(
			"unknown hvac action %q for entity %s.%s", rec.StringValue, rec.Domain, rec.EntityID))
	}

	points := make([]Point, 0, len(HvacActions))
	for _, candidate := range HvacActions {
		value := 0.0
		if candidate == action {
			value = 1.0
		}
		points = append(points, Point{
			Metric:      HvacActionMetric,
			Labels:      m.buildLabels(rec, map[string]string{"action": candidate}),
			Value:       value,
			TimestampMs: rec.Timestamp.UnixMilli(),
		})
	}

	return points, nil
}

func isKnownHvacAction(action string) bool {
	for _, a := range HvacActions {
		if a == action {
			return true
		}
	}
	return false
}

// resolveMetric applies the declarative lookup: field mappings for non-value
// fields, then (domain, unit) mappings with the ambiguous-unit predicate
// chain.
func (m *mapper) resolveMetric(rec *Record) (string, MetricRule, error) {
	errFactory := errors.New()

	if rec.Field != "" && rec.Field != "value" {
		rule, ok := m.schema.fieldRule(rec.Domain, rec.Field)
		if !ok {
			return "", MetricRule{}, errFactory.WithData(ErrUnmappedRecord, fmt.Sprintf(
				"no field mapping for domain=%q field=%q", rec.Domain, rec.Field))
		}
		if rule.Ignore {
			return "", MetricRule{}, errFactory.WithData(ErrRecordIgnored, fmt.Sprintf(
				"field %s/%s ignored", rec.Domain, rec.Field))
		}
		return rule.Metric, rule, nil
	}

	rule, ok := m.schema.metricRule(rec.Domain, rec.Unit)
	if !ok {
		return "", MetricRule{}, errFactory.WithData(ErrUnmappedRecord, fmt.Sprintf(
			"no mapping for domain=%q unit=%q entity=%q", rec.Domain, rec.Unit, rec.EntityID))
	}
	if rule.Ignore {
		return "", MetricRule{}, errFactory.WithData(ErrRecordIgnored, fmt.Sprintf(
			"unit %s/%s ignored", rec.Domain, rec.Unit))
	}

	if rule.SpecialMappingRequired {
		special, matched := m.schema.resolveSpecial(rec.Unit, rec.EntityID)
		if matched {
			if special.Ignore {
				return "", MetricRule{}, errFactory.WithData(ErrRecordIgnored, fmt.Sprintf(
					"entity %q ignored by %q pattern %q", rec.EntityID, rec.Unit, special.Pattern))
			}
			return special.Metric, rule, nil
		}
		// No pattern and no default: fall through to the rule's own metric.
	}

	if rule.Metric == "" {
		return "", MetricRule{}, errFactory.WithData(ErrUnmappedRecord, fmt.Sprintf(
			"empty metric for domain=%q unit=%q", rec.Domain, rec.Unit))
	}

	return rule.Metric, rule, nil
}

// validateMetric enforces strict mode: the resolved name must already exist
// at the destination unless the rule allows creating new series.
func (m *mapper) validateMetric(metric string, rule MetricRule, rec *Record) error {
	if m.knownMetrics == nil || rule.AllowNew {
		return nil
	}
	if _, ok := m.knownMetrics[metric]; ok {
		return nil
	}

	return errors.New().WithData(ErrUnknownMetric, fmt.Sprintf(
		"metric %q resolved from domain=%q unit=%q entity=%q field=%q is not known at the destination",
		metric, rec.Domain, rec.Unit, rec.EntityID, rec.Field))
}

// buildLabels composes the fixed projection (entity, domain, friendly_name,
// static job/instance labels) plus any extra labels.
func (m *mapper) buildLabels(rec *Record, extra map[string]string) map[string]string {
	labels := make(map[string]string, 5+len(extra))

	labels["entity"] = m.schema.EntityLabel(rec.Domain, rec.EntityID)
	labels["domain"] = rec.Domain

	friendly := rec.FriendlyName
	if friendly == "" {
		friendly = rec.EntityID
	}
	labels["friendly_name"] = friendly

	for k, v := range m.schema.Labels.Static {
		labels[k] = v
	}
	for k, v := range extra {
		labels[k] = v
	}

	return labels
}
