package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/logger"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
)

const sampleLines = 3

// Writer submits batched points to VictoriaMetrics using the Prometheus text
// import format. Writes are idempotent at the destination: the same
// metric+labels+timestamp overwrites the value, so retried batches never
// duplicate data.
type Writer struct {
	cfg       Config
	importURL string
	healthURL string
	client    *http.Client

	mu            sync.Mutex
	pointsWritten int64
	batchesSent   int64
}

// NewWriter builds a Writer for the given destination.
func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.URL, "/")
	w := &Writer{
		cfg:       cfg,
		importURL: base + "/api/v1/import/prometheus",
		healthURL: base + "/health",
		client:    &http.Client{Timeout: cfg.RequestTimeout},
	}

	if cfg.DryRun {
		logger.Info().Msg("VictoriaMetrics writer initialized in dry-run mode, no data will be written")
	} else {
		logger.Info().
			Str("url", base).
			Int("batch_size", cfg.BatchSize).
			Msg("VictoriaMetrics writer initialized")
	}

	return w, nil
}

// WriteBatch writes a batch of points, retrying transient failures with
// bounded exponential backoff. It returns the number of points written. A
// permanent failure or exhausted retries surfaces as ErrWriteFailed with the
// batch size attached; the batch itself has not been acknowledged.
func (w *Writer) WriteBatch(ctx context.Context, points []mapping.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	lines := make([]string, len(points))
	for i := range points {
		lines[i] = FormatPrometheusLine(&points[i])
	}
	payload := strings.Join(lines, "\n")

	if w.cfg.DryRun {
		w.logDryRunBatch(lines)
		w.recordBatch(len(points))
		return len(points), nil
	}

	operation := func() error {
		return w.post(ctx, payload)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(w.newExponentialBackOff(), w.cfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err).
			WithData(fmt.Sprintf("batch of %d points not written", len(points)))
	}

	w.recordBatch(len(points))

	logger.Debug().
		Int("points", len(points)).
		Int64("total_points", w.PointsWritten()).
		Int64("total_batches", w.BatchesSent()).
		Msg("Batch written")

	return len(points), nil
}

func (w *Writer) newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	return b
}

func (w *Writer) post(ctx context.Context, payload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.importURL, strings.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		// Network errors are transient, keep retrying.
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		httpErr := fmt.Errorf("import returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode < 500 {
			// Client errors will not resolve on retry.
			return backoff.Permanent(httpErr)
		}
		return httpErr
	}

	return nil
}

func (w *Writer) logDryRunBatch(lines []string) {
	count := len(lines)
	logger.Info().Int("points", count).Msg("Dry-run: would write batch")

	samples := sampleLines
	if count < samples {
		samples = count
	}
	for i := 0; i < samples; i++ {
		line := lines[i]
		if len(line) > 200 {
			line = line[:200] + "..."
		}
		logger.Info().Str("sample", line).Msg("Dry-run sample")
	}
}

func (w *Writer) recordBatch(points int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pointsWritten += int64(points)
	w.batchesSent++
}

// HealthCheck verifies the destination is reachable and healthy.
func (w *Writer) HealthCheck(ctx context.Context) error {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.healthURL, http.NoBody)
	if err != nil {
		return errFactory.Wrap(ErrUnavailable, err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errFactory.WithData(ErrUnavailable, fmt.Sprintf("health returned status %d", resp.StatusCode))
	}

	return nil
}

// DeleteByLabel removes every series carrying the given label, via the
// admin delete-by-match endpoint. Used for rollback of a whole migration
// (e.g. job="influxdb-migration").
func (w *Writer) DeleteByLabel(ctx context.Context, name, value string) error {
	errFactory := errors.New()

	deleteURL := strings.TrimRight(w.cfg.URL, "/") + "/api/v1/admin/tsdb/delete_series"
	matcher := fmt.Sprintf(`{%s=%q}`, name, value)

	form := url.Values{}
	form.Set("match[]", matcher)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deleteURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errFactory.Wrap(ErrDeleteFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrDeleteFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return errFactory.WithData(ErrDeleteFailed, fmt.Sprintf(
			"delete_series returned status %d: %s", resp.StatusCode, string(body)))
	}

	logger.Info().Str("matcher", matcher).Msg("Deleted series by label")
	return nil
}

// FetchMetricNames returns the destination metric names matching the given
// name regexp, used for strict mapping validation.
func (w *Writer) FetchMetricNames(ctx context.Context, pattern string) ([]string, error) {
	errFactory := errors.New()

	labelURL := strings.TrimRight(w.cfg.URL, "/") + "/api/v1/label/__name__/values"
	matcher := fmt.Sprintf("{__name__=~'%s'}", pattern)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, labelURL, http.NoBody)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	query := req.URL.Query()
	query.Set("match[]", matcher)
	req.URL.RawQuery = query.Encode()

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrQueryFailed, fmt.Sprintf(
			"label values returned status %d", resp.StatusCode))
	}

	var payload struct {
		Status string   `json:"status"`
		Error  string   `json:"error"`
		Data   []string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	if payload.Status != "success" {
		return nil, errFactory.WithData(ErrQueryFailed, payload.Error)
	}

	logger.Info().Int("metrics", len(payload.Data)).Str("pattern", pattern).
		Msg("Fetched known metric names")

	return payload.Data, nil
}

// PointsWritten returns the total number of points written (or counted in
// dry-run mode).
func (w *Writer) PointsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pointsWritten
}

// BatchesSent returns the total number of batches sent.
func (w *Writer) BatchesSent() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batchesSent
}

// IsDryRun reports whether the writer is in dry-run mode.
func (w *Writer) IsDryRun() bool {
	return w.cfg.DryRun
}

// Close releases idle connections.
func (w *Writer) Close() {
	w.client.CloseIdleConnections()
}
