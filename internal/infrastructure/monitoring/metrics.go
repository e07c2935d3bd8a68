package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so kernel tests run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	// Kernel metrics
	SyscallsTotal   *prometheus.CounterVec
	FaultsTotal     *prometheus.CounterVec
	RestartsTotal   prometheus.Counter
	UpcallDrops     prometheus.Counter
	ContextSwitches prometheus.Counter
	ProcessesActive prometheus.Gauge
	ProcessesLoaded prometheus.Gauge
	SliceUtilization prometheus.Histogram

	// Console HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current console-facing values for the JSON API.
type Snapshot struct {
	TotalRequests int64 `json:"total_requests"`
	TotalErrors   int64 `json:"total_errors"`
	WSClients     int64 `json:"ws_clients"`
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SyscallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_syscalls_total",
				Help: "System calls dispatched, by class",
			},
			[]string{"class"},
		),
		FaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_faults_total",
				Help: "Process faults, by class",
			},
			[]string{"class"},
		),
		RestartsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_restarts_total",
				Help: "Process restarts, policy and operator together",
			},
		),
		UpcallDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_upcalls_dropped_total",
				Help: "Upcalls dropped against full process queues",
			},
		),
		ContextSwitches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ember_context_switches_total",
				Help: "Protection unit reprogram operations",
			},
		),
		ProcessesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_processes_active",
				Help: "Schedulable processes",
			},
		),
		ProcessesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_processes_loaded",
				Help: "Occupied process slots",
			},
		),
		SliceUtilization: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ember_timeslice_utilization",
				Help:    "Fraction of each timeslice actually executed",
				Buckets: []float64{.1, .25, .5, .75, .9, .99, 1},
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_http_requests_total",
				Help: "Console HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ember_http_request_duration_seconds",
				Help:    "Console HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_ws_connections",
				Help: "Active trace stream subscribers",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_ws_messages_total",
				Help: "Trace stream messages, by direction and type",
			},
			[]string{"direction", "type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ember_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordSyscall records one dispatched system call.
func (m *Metrics) RecordSyscall(class string) {
	if m == nil {
		return
	}
	m.SyscallsTotal.WithLabelValues(class).Inc()
}

// RecordFault records one process fault.
func (m *Metrics) RecordFault(class string) {
	if m == nil {
		return
	}
	m.FaultsTotal.WithLabelValues(class).Inc()
}

// RecordRestart records one process restart.
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.RestartsTotal.Inc()
}

// RecordUpcallDrop records an upcall lost to a full queue.
func (m *Metrics) RecordUpcallDrop() {
	if m == nil {
		return
	}
	m.UpcallDrops.Inc()
}

// RecordContextSwitch records one protection unit reprogram.
func (m *Metrics) RecordContextSwitch() {
	if m == nil {
		return
	}
	m.ContextSwitches.Inc()
}

// RecordSliceUtilization records what fraction of a timeslice ran.
func (m *Metrics) RecordSliceUtilization(frac float64) {
	if m == nil {
		return
	}
	m.SliceUtilization.Observe(frac)
}

// SetProcessCounts sets the loaded and schedulable process gauges.
func (m *Metrics) SetProcessCounts(loaded, active int) {
	if m == nil {
		return
	}
	m.ProcessesLoaded.Set(float64(loaded))
	m.ProcessesActive.Set(float64(active))
}

// RecordHTTPRequest records a console request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWSMessage records a trace stream message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments trace stream connections.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSClients++
	m.mu.Unlock()
}

// DecWSConnections decrements trace stream connections.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSClients--
	m.mu.Unlock()
}

// ConsoleSnapshot returns current console-facing counters.
func (m *Metrics) ConsoleSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
