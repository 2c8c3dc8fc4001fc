package influx

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/logger"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
)

// RecordStream is a lazy, finite sequence of raw records. It is not
// restartable: restarting means issuing QueryWindow again.
type RecordStream interface {
	Next() bool
	Record() *mapping.Record
	Err() error
}

// Reader enumerates raw records from the source store for a domain and time
// window.
type Reader interface {
	QueryWindow(ctx context.Context, domain string, start, end time.Time) (RecordStream, error)
	Close()
}

type reader struct {
	cfg      Config
	client   influxdb2.Client
	queryAPI api.QueryAPI
}

// NewReader connects to InfluxDB 2.x.
func NewReader(cfg Config) (Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.RequestTimeout / time.Second))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	logger.Info().
		Str("url", cfg.URL).
		Str("bucket", cfg.Bucket).
		Bool("extended_fields", cfg.ExtendedFields).
		Msg("Connected to InfluxDB")

	return &reader{
		cfg:      cfg,
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
	}, nil
}

// QueryWindow streams all records for one domain in [start, end), in
// non-decreasing timestamp order.
func (r *reader) QueryWindow(ctx context.Context, domain string, start, end time.Time) (RecordStream, error) {
	errFactory := errors.New()

	flux := buildFluxQuery(r.cfg.Bucket, domain, start, end, r.cfg.ExtendedFields)
	logger.Debug().
		Str("domain", domain).
		Time("start", start).
		Time("end", end).
		Msg("Querying window")

	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, errFactory.Wrap(ErrSourceUnavailable, err)
	}

	return &recordStream{
		result:   result,
		domain:   domain,
		extended: r.cfg.ExtendedFields,
	}, nil
}

func (r *reader) Close() {
	r.client.Close()
	logger.Debug().Msg("InfluxDB connection closed")
}

type recordStream struct {
	result   *api.QueryTableResult
	domain   string
	extended bool
	current  *mapping.Record
	err      error
}

func (s *recordStream) Next() bool {
	if s.err != nil {
		return false
	}

	for s.result.Next() {
		rec := convertRecord(s.result.Record(), s.domain)
		if rec == nil {
			continue
		}
		if s.extended && !fieldAllowed(s.domain, rec.Field) {
			continue
		}
		s.current = rec
		return true
	}

	if err := s.result.Err(); err != nil {
		s.err = errors.New().Wrap(ErrSourceUnavailable, err)
	}
	return false
}

func (s *recordStream) Record() *mapping.Record {
	return s.current
}

func (s *recordStream) Err() error {
	return s.err
}

func fieldAllowed(domain, field string) bool {
	for _, f := range FieldsForDomain(domain, true) {
		if f == field {
			return true
		}
	}
	return false
}

// convertRecord turns a flux record into a raw mapping record. Rows with a
// missing or non-convertible value are dropped.
func convertRecord(flux *query.FluxRecord, domain string) *mapping.Record {
	entityID := stringValue(flux.ValueByKey("entity_id"))
	if entityID == "" {
		entityID = "unknown"
	}

	friendlyName := stringValue(flux.ValueByKey("friendly_name"))
	if friendlyName == "" {
		friendlyName = entityID
	}

	rec := &mapping.Record{
		Timestamp:    flux.Time(),
		Domain:       domain,
		EntityID:     entityID,
		FriendlyName: friendlyName,
		Unit:         flux.Measurement(),
		Field:        flux.Field(),
	}

	switch v := flux.Value().(type) {
	case float64:
		rec.Value = v
	case int64:
		rec.Value = float64(v)
	case uint64:
		rec.Value = float64(v)
	case bool:
		if v {
			rec.Value = 1
		}
	case string:
		if v == "" {
			return nil
		}
		rec.StringValue = v
	default:
		return nil
	}

	return rec
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
