package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector() (*PrometheusCollector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewPrometheusCollectorWithRegistry(reg, "test"), reg
}

func TestPrometheusCollector_IncrementCounter(t *testing.T) {
	collector, _ := newTestCollector()
	collector.IncrementCounter("stock_analyses", "ticker", "AAPL")
	collector.IncrementCounter("stock_analyses", "ticker", "AAPL")
	collector.IncrementCounter("stock_analyses", "ticker", "MSFT")

	counter := collector.counters["stock_analyses"]
	require.NotNil(t, counter)
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("MSFT")))

	// mismatched labels are dropped rather than panicking
	collector.IncrementCounter("stock_analyses", "ticker", "AAPL", "extra", "x")
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("AAPL")))
}

func TestPrometheusCollector_RecordHistogram(t *testing.T) {
	collector, _ := newTestCollector()
	collector.RecordHistogram("query_rows", 42, "source", "csv")

	histogram := collector.histograms["query_rows"]
	require.NotNil(t, histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestPrometheusCollector_RecordGauge(t *testing.T) {
	collector, _ := newTestCollector()
	collector.RecordGauge("datasets_loaded", 3)
	collector.RecordGauge("datasets_loaded", 4)

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.gauges["datasets_loaded"]))
}

func TestPrometheusCollector_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusCollectorWithRegistry(reg, "test")
	b := NewPrometheusCollectorWithRegistry(reg, "test")

	a.IncrementCounter("requests")
	b.IncrementCounter("requests")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.counters["requests"]))
}

func TestPrometheusCollector_StartTimer(t *testing.T) {
	collector, reg := newTestCollector()
	timer := collector.StartTimer("analysis")
	time.Sleep(5 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0)

	count, err := testutil.GatherAndCount(reg, "test_analysis_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestParseLabelPairs(t *testing.T) {
	tests := []struct {
		name       string
		labels     []string
		wantNames  []string
		wantValues []string
	}{
		{"empty", []string{}, []string{}, []string{}},
		{"single pair", []string{"k1", "v1"}, []string{"k1"}, []string{"v1"}},
		{"multiple pairs", []string{"k1", "v1", "k2", "v2"}, []string{"k1", "k2"}, []string{"v1", "v2"}},
		{"odd count drops last", []string{"k1", "v1", "k2"}, []string{"k1"}, []string{"v1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, values := parseLabelPairs(tt.labels)
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestMetricsServer(t *testing.T) {
	collector, reg := newTestCollector()
	collector.IncrementCounter("requests")

	server := NewMetricsServer("127.0.0.1:0", "", reg)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	require.Eventually(t, func() bool { return server.Addr() != "" }, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + server.Addr() + DefaultPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_requests 1"))

	require.NoError(t, server.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}

func TestMetricsServer_StopWithoutStart(t *testing.T) {
	server := NewMetricsServer(":0", "", nil)
	assert.NoError(t, server.Stop())
	assert.NoError(t, server.Shutdown(context.Background()))
}
