package mapping

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
)

// Schema is the declarative mapping ruleset, loaded once at startup and
// immutable for the lifetime of the run.
type Schema struct {
	Labels          LabelConfig                      `yaml:"labels"`
	MetricMappings  map[string]map[string]MetricRule `yaml:"metric_mappings"`
	FieldMappings   map[string]map[string]MetricRule `yaml:"field_mappings"`
	SpecialMappings map[string]SpecialMapping        `yaml:"special_mappings"`
}

// MetricRule maps one (domain, unit) or (domain, field) combination to a
// destination metric.
type MetricRule struct {
	Metric                 string `yaml:"metric"`
	Ignore                 bool   `yaml:"ignore"`
	AllowNew               bool   `yaml:"allow_new"`
	SpecialMappingRequired bool   `yaml:"special_mapping_required"`
}

// SpecialMapping disambiguates a unit shared by multiple metric types via an
// ordered list of entity-id substring patterns. A rule with pattern "default"
// is the fallback when nothing else matches.
type SpecialMapping struct {
	Rules []PatternRule `yaml:"rules"`
}

type PatternRule struct {
	Pattern string `yaml:"pattern"`
	Metric  string `yaml:"metric"`
	Ignore  bool   `yaml:"ignore"`
}

// LabelConfig describes the label projection applied to every point.
type LabelConfig struct {
	Computed map[string]ComputedLabel `yaml:"computed"`
	Static   map[string]string        `yaml:"static"`
}

type ComputedLabel struct {
	Template string `yaml:"template"`
}

// LoadSchemaFile reads and validates a schema mapping file.
func LoadSchemaFile(path string) (*Schema, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrSchemaNotFound, err)
	}

	return LoadSchema(data)
}

// LoadSchema parses and validates a schema mapping document.
func LoadSchema(data []byte) (*Schema, error) {
	errFactory := errors.New()

	schema := &Schema{}
	if err := yaml.Unmarshal(data, schema); err != nil {
		return nil, errFactory.Wrap(ErrInvalidSchema, err)
	}

	if err := schema.Validate(); err != nil {
		return nil, err
	}

	return schema, nil
}

// Validate checks that the required sections are present.
func (s *Schema) Validate() error {
	errFactory := errors.New()

	missing := []string{}
	if len(s.Labels.Static) == 0 && len(s.Labels.Computed) == 0 {
		missing = append(missing, "labels")
	}
	if len(s.MetricMappings) == 0 {
		missing = append(missing, "metric_mappings")
	}
	if s.SpecialMappings == nil {
		missing = append(missing, "special_mappings")
	}

	if len(missing) > 0 {
		return errFactory.WithData(ErrInvalidSchema, "missing sections: "+strings.Join(missing, ", "))
	}

	return nil
}

// metricRule looks up the rule for a (domain, unit) combination.
func (s *Schema) metricRule(domain, unit string) (MetricRule, bool) {
	rules, ok := s.MetricMappings[domain]
	if !ok {
		return MetricRule{}, false
	}
	rule, ok := rules[unit]
	return rule, ok
}

// fieldRule looks up the rule for a (domain, field) combination.
func (s *Schema) fieldRule(domain, field string) (MetricRule, bool) {
	rules, ok := s.FieldMappings[domain]
	if !ok {
		return MetricRule{}, false
	}
	rule, ok := rules[field]
	return rule, ok
}

// resolveSpecial walks the pattern chain for an ambiguous unit. It returns
// the matched rule and true, or false when no pattern (including "default")
// applies.
func (s *Schema) resolveSpecial(unit, entityID string) (PatternRule, bool) {
	special, ok := s.SpecialMappings[unit]
	if !ok {
		return PatternRule{}, false
	}

	entity := strings.ToLower(entityID)
	for _, rule := range special.Rules {
		pattern := strings.ToLower(rule.Pattern)
		if pattern == "default" {
			continue
		}
		if strings.Contains(entity, pattern) {
			return rule, true
		}
	}

	for _, rule := range special.Rules {
		if strings.ToLower(rule.Pattern) == "default" {
			return rule, true
		}
	}

	return PatternRule{}, false
}

// EntityLabel renders the computed entity label, defaulting to
// "{domain}.{entity_id}".
func (s *Schema) EntityLabel(domain, entityID string) string {
	template := "{domain}.{entity_id}"
	if computed, ok := s.Labels.Computed["entity"]; ok && computed.Template != "" {
		template = computed.Template
	}

	out := strings.ReplaceAll(template, "{domain}", domain)
	return strings.ReplaceAll(out, "{entity_id}", entityID)
}
