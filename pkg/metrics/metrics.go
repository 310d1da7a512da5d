// Package metrics is the ingress bridge's operational metrics surface: a
// set of wait-free atomic counters and gauges per connector instance,
// registered under an operational namespace the way the Java original
// registers a JMX MBean (io.conduktor.connect.otel:type=...,name=...).
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

// Snapshot is a point-in-time, read-only view of a Metrics instance,
// suitable for JSON exposition or a structured log line.
type Snapshot struct {
	ConnectorName              string  `json:"connector_name"`
	TracesReceived             int64   `json:"traces_received"`
	MetricsReceived            int64   `json:"metrics_received"`
	LogsReceived               int64   `json:"logs_received"`
	TracesDropped              int64   `json:"traces_dropped"`
	MetricsDropped             int64   `json:"metrics_dropped"`
	LogsDropped                int64   `json:"logs_dropped"`
	RecordsProduced            int64   `json:"records_produced"`
	TracesQueueSize            int64   `json:"traces_queue_size"`
	MetricsQueueSize           int64   `json:"metrics_queue_size"`
	LogsQueueSize              int64   `json:"logs_queue_size"`
	QueueCapacity              int64   `json:"queue_capacity"`
	TotalReceived              int64   `json:"total_received"`
	TotalDropped               int64   `json:"total_dropped"`
	MaxQueueUtilizationPercent float64 `json:"max_queue_utilization_percent"`
	TotalLag                   int64   `json:"total_lag"`
	DropRatePercent            float64 `json:"drop_rate_percent"`
}

// Metrics is one connector instance's counters and gauges. All mutation
// methods are wait-free; none ever take a lock.
type Metrics struct {
	connectorName string

	received [3]atomic.Int64
	dropped  [3]atomic.Int64

	recordsProduced atomic.Int64

	queueSize     [3]atomic.Int64
	queueCapacity atomic.Int64
}

func newMetrics(connectorName string) *Metrics {
	return &Metrics{connectorName: connectorName}
}

// IncrementReceived bumps the per-signal received counter by one.
func (m *Metrics) IncrementReceived(signal otlp.SignalKind) {
	m.received[signal].Add(1)
}

// IncrementDropped bumps the per-signal dropped counter by one.
func (m *Metrics) IncrementDropped(signal otlp.SignalKind) {
	m.dropped[signal].Add(1)
}

// IncrementRecordsProduced bumps the cumulative records-produced counter by
// k.
func (m *Metrics) IncrementRecordsProduced(k int64) {
	m.recordsProduced.Add(k)
}

// UpdateQueueSize sets the last-written queue-size gauge for signal.
func (m *Metrics) UpdateQueueSize(signal otlp.SignalKind, n int) {
	m.queueSize[signal].Store(int64(n))
}

// SetQueueCapacity sets the queue-capacity gauge, shared across all three
// signals since they are configured with one capacity.
func (m *Metrics) SetQueueCapacity(n int) {
	m.queueCapacity.Store(int64(n))
}

// ResetCounters clears every counter but preserves the gauges (queue size
// and capacity reflect live state, not an accumulation, so resetting them
// would just be wrong until the next update anyway).
func (m *Metrics) ResetCounters() {
	for i := range m.received {
		m.received[i].Store(0)
		m.dropped[i].Store(0)
	}
	m.recordsProduced.Store(0)
}

// Snapshot computes a read-only view, including the derived rates.
func (m *Metrics) Snapshot() Snapshot {
	tracesReceived := m.received[otlp.Traces].Load()
	metricsReceived := m.received[otlp.Metrics].Load()
	logsReceived := m.received[otlp.Logs].Load()
	tracesDropped := m.dropped[otlp.Traces].Load()
	metricsDropped := m.dropped[otlp.Metrics].Load()
	logsDropped := m.dropped[otlp.Logs].Load()
	produced := m.recordsProduced.Load()
	capacity := m.queueCapacity.Load()

	totalReceived := tracesReceived + metricsReceived + logsReceived
	totalDropped := tracesDropped + metricsDropped + logsDropped

	var maxUtil float64
	if capacity > 0 {
		for i := range m.queueSize {
			util := 100 * float64(m.queueSize[i].Load()) / float64(capacity)
			if util > maxUtil {
				maxUtil = util
			}
		}
	}

	var dropRate float64
	if totalReceived > 0 {
		dropRate = 100 * float64(totalDropped) / float64(totalReceived)
	}

	return Snapshot{
		ConnectorName:              m.connectorName,
		TracesReceived:             tracesReceived,
		MetricsReceived:            metricsReceived,
		LogsReceived:               logsReceived,
		TracesDropped:              tracesDropped,
		MetricsDropped:             metricsDropped,
		LogsDropped:                logsDropped,
		RecordsProduced:            produced,
		TracesQueueSize:            m.queueSize[otlp.Traces].Load(),
		MetricsQueueSize:           m.queueSize[otlp.Metrics].Load(),
		LogsQueueSize:              m.queueSize[otlp.Logs].Load(),
		QueueCapacity:              capacity,
		TotalReceived:              totalReceived,
		TotalDropped:               totalDropped,
		MaxQueueUtilizationPercent: maxUtil,
		TotalLag:                   totalReceived - produced,
		DropRatePercent:            dropRate,
	}
}

// Registry is the operational namespace: one Metrics instance per
// connector name, with upsert-on-collision semantics matching the Java
// original's "unregister and replace" rule for same-named registrations.
type Registry struct {
	mu   sync.Mutex
	byName map[string]*Metrics
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Metrics)}
}

// Register creates (or supersedes) the Metrics instance for connectorName
// and returns it. A prior registration under the same name is discarded;
// registering never fails, matching §4.C's "must not throw on collision".
func (r *Registry) Register(connectorName string) *Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := newMetrics(connectorName)
	r.byName[connectorName] = m
	return m
}

// Unregister removes connectorName's Metrics instance, if any.
func (r *Registry) Unregister(connectorName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, connectorName)
}

// Snapshot returns the named connector's current snapshot, or false if no
// such connector is registered.
func (r *Registry) Snapshot(connectorName string) (Snapshot, bool) {
	r.mu.Lock()
	m, ok := r.byName[connectorName]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return m.Snapshot(), true
}

// Names returns every currently-registered connector name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
