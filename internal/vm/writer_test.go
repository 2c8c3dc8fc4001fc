package vm_test

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/mapping"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/vm"
)

const testURL = "http://vm.test:8428"

func testConfig(dryRun bool) vm.Config {
	cfg := vm.DefaultConfig()
	cfg.URL = testURL
	cfg.DryRun = dryRun
	cfg.InitialBackoff = time.Millisecond
	return cfg
}

func testPoints(n int) []mapping.Point {
	points := make([]mapping.Point, n)
	for i := range points {
		points[i] = mapping.Point{
			Metric: "homeassistant_sensor_temperature_celsius",
			Labels: map[string]string{
				"entity":        "sensor.temp",
				"domain":        "sensor",
				"friendly_name": "Temp",
				"job":           "influxdb-migration",
				"instance":      "influxdb-migration",
			},
			Value:       21.5,
			TimestampMs: 1748779200000 + int64(i)*1000,
		}
	}
	return points
}

func TestWriteBatchSuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var body atomic.Value
	httpmock.RegisterResponder(http.MethodPost, testURL+"/api/v1/import/prometheus",
		func(req *http.Request) (*http.Response, error) {
			buf, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			body.Store(string(buf))
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	written, err := writer.WriteBatch(context.Background(), testPoints(2))
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, int64(2), writer.PointsWritten())
	assert.Equal(t, int64(1), writer.BatchesSent())

	payload, _ := body.Load().(string)
	assert.Contains(t, payload, `homeassistant_sensor_temperature_celsius{domain="sensor",entity="sensor.temp"`)
	assert.Contains(t, payload, "1748779200000")
}

func TestWriteBatchRetriesTransientError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var calls int32
	httpmock.RegisterResponder(http.MethodPost, testURL+"/api/v1/import/prometheus",
		func(*http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, "overloaded"), nil
			}
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	written, err := writer.WriteBatch(context.Background(), testPoints(1))
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWriteBatchExhaustsRetries(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testURL+"/api/v1/import/prometheus",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	written, err := writer.WriteBatch(context.Background(), testPoints(5))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, vm.ErrWriteFailed))
	assert.Zero(t, written)
	assert.Zero(t, writer.PointsWritten())

	// Initial attempt plus the configured retries.
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 4, info["POST "+testURL+"/api/v1/import/prometheus"])
}

func TestWriteBatchClientErrorIsNotRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testURL+"/api/v1/import/prometheus",
		httpmock.NewStringResponder(http.StatusBadRequest, "bad payload"))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.WriteBatch(context.Background(), testPoints(1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, vm.ErrWriteFailed))

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+testURL+"/api/v1/import/prometheus"])
}

func TestWriteBatchEmpty(t *testing.T) {
	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	written, err := writer.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestWriteBatchDryRun(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	writer, err := vm.NewWriter(testConfig(true))
	require.NoError(t, err)
	defer writer.Close()

	written, err := writer.WriteBatch(context.Background(), testPoints(10))
	require.NoError(t, err)
	assert.Equal(t, 10, written)
	assert.Equal(t, int64(10), writer.PointsWritten())
	assert.True(t, writer.IsDryRun())

	// No HTTP traffic in dry-run mode.
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestHealthCheck(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, testURL+"/health",
		httpmock.NewStringResponder(http.StatusOK, "OK"))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.HealthCheck(context.Background()))
}

func TestHealthCheckFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, testURL+"/health",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	err = writer.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, vm.ErrUnavailable))
}

func TestDeleteByLabel(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var matcher string
	httpmock.RegisterResponder(http.MethodPost, testURL+"/api/v1/admin/tsdb/delete_series",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			matcher = req.PostForm.Get("match[]")
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.DeleteByLabel(context.Background(), "job", "influxdb-migration"))
	assert.Equal(t, `{job="influxdb-migration"}`, matcher)
}

func TestFetchMetricNames(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, testURL+"/api/v1/label/__name__/values",
		httpmock.NewStringResponder(http.StatusOK,
			`{"status":"success","data":["homeassistant_sensor_temperature_celsius","homeassistant_climate_action"]}`))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	names, err := writer.FetchMetricNames(context.Background(), "homeassistant_.*")
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names, "homeassistant_climate_action")
}

func TestFetchMetricNamesError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, testURL+"/api/v1/label/__name__/values",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"error","error":"query too wide"}`))

	writer, err := vm.NewWriter(testConfig(false))
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.FetchMetricNames(context.Background(), "homeassistant_.*")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, vm.ErrQueryFailed))
}
