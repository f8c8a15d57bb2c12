// Package handlers contains the HTTP API handlers.
package handlers

import "github.com/TFMV/quarry/pkg/infrastructure/metrics"

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines the metrics interface.
type MetricsCollector interface {
	IncrementCounter(name string, tags ...string)
	RecordHistogram(name string, value float64, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop()
}

// metricsAdapter adapts metrics.Collector to the MetricsCollector interface used in handlers.
type metricsAdapter struct {
	collector metrics.Collector
}

// NewMetricsAdapter wraps a metrics collector for the handlers.
func NewMetricsAdapter(c metrics.Collector) MetricsCollector {
	return &metricsAdapter{collector: c}
}

func (m *metricsAdapter) IncrementCounter(name string, labels ...string) {
	m.collector.IncrementCounter(name, labels...)
}

func (m *metricsAdapter) RecordHistogram(name string, value float64, labels ...string) {
	m.collector.RecordHistogram(name, value, labels...)
}

func (m *metricsAdapter) RecordGauge(name string, value float64, labels ...string) {
	m.collector.RecordGauge(name, value, labels...)
}

func (m *metricsAdapter) StartTimer(name string) Timer {
	return &metricsTimerAdapter{timer: m.collector.StartTimer(name)}
}

type metricsTimerAdapter struct {
	timer metrics.Timer
}

func (t *metricsTimerAdapter) Stop() {
	t.timer.Stop()
}
