package monitor

import (
	"net/http"

	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts loop activity. All methods are safe on a nil receiver.
type Metrics struct {
	registry      *prometheus.Registry
	cycles        prometheus.Counter
	stored        *prometheus.CounterVec
	sensorFaults  *prometheus.CounterVec
	storageFaults *prometheus.CounterVec
	displayFaults prometheus.Counter
	outputFaults  *prometheus.CounterVec
	active        prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarthome_cycles_total",
			Help: "Acquisition cycles completed.",
		}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_readings_stored_total",
			Help: "Readings persisted by kind.",
		}, []string{"kind"}),
		sensorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_sensor_faults_total",
			Help: "Sensor reads that failed, by kind.",
		}, []string{"kind"}),
		storageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_storage_faults_total",
			Help: "Readings that could not be persisted, by kind.",
		}, []string{"kind"}),
		displayFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarthome_display_faults_total",
			Help: "Display cycles that hit a write failure.",
		}),
		outputFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_output_faults_total",
			Help: "Failed output publishes, by output type.",
		}, []string{"output"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smarthome_session_active",
			Help: "1 while an acquisition session is running.",
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.stored,
		m.sensorFaults,
		m.storageFaults,
		m.displayFaults,
		m.outputFaults,
		m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, k := range sensor.Kinds {
		m.stored.WithLabelValues(string(k))
		m.sensorFaults.WithLabelValues(string(k))
		m.storageFaults.WithLabelValues(string(k))
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Cycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) Stored(kind sensor.Kind) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SensorFault(kind sensor.Kind) {
	if m == nil {
		return
	}
	m.sensorFaults.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) StorageFault(kind sensor.Kind) {
	if m == nil {
		return
	}
	m.storageFaults.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) DisplayFault(error) {
	if m == nil {
		return
	}
	m.displayFaults.Inc()
}

func (m *Metrics) OutputFault(output string) {
	if m == nil {
		return
	}
	m.outputFaults.WithLabelValues(output).Inc()
}

func (m *Metrics) SetActive(on bool) {
	if m == nil {
		return
	}
	if on {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}
