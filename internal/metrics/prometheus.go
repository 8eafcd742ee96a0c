// Package metrics exposes the supervisor's Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkup"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all supervisor metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// Bring-up
	BringupState  prometheus.Gauge
	StageFailures *prometheus.CounterVec

	// Events
	ReadinessSignals *prometheus.CounterVec
	LifecycleEvents  *prometheus.CounterVec

	// Probe
	ProbeRTT  *prometheus.GaugeVec
	ProbeLoss prometheus.Gauge

	// Liveness
	LivenessTimeouts prometheus.Counter
	LastSignal       prometheus.Gauge

	// Interface counters
	InterfaceRxBytes   *prometheus.GaugeVec
	InterfaceTxBytes   *prometheus.GaugeVec
	InterfaceRxPackets *prometheus.GaugeVec
	InterfaceTxPackets *prometheus.GaugeVec
	InterfaceErrors    *prometheus.GaugeVec
	InterfaceUp        *prometheus.GaugeVec
}

// Get returns the process registry, creating it if necessary. It carries the
// Go runtime and process collectors next to the supervisor metrics.
func Get() *Registry {
	once.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry = New(reg)
	})
	return registry
}

// New builds a registry on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Registry {
	f := promauto.With(reg)
	r := &Registry{gatherer: reg}

	r.BringupState = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bringup_state",
		Help:      "Current bring-up state (0=uninitialized .. 6=monitoring, 7=failed)",
	})
	r.StageFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Fatal bring-up failures by stage",
	}, []string{"stage"})

	r.ReadinessSignals = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readiness_signals_total",
		Help:      "Readiness signals offered to the readiness channel",
	}, []string{"result"})
	r.LifecycleEvents = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_events_total",
		Help:      "Lifecycle events received by kind",
	}, []string{"kind"})

	r.ProbeRTT = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_rtt_seconds",
		Help:      "Round-trip statistics of the last connectivity probe",
	}, []string{"stat"})
	r.ProbeLoss = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_loss_ratio",
		Help:      "Packet loss of the last connectivity probe (0..1)",
	})

	r.LivenessTimeouts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liveness_timeouts_total",
		Help:      "Liveness windows that elapsed without a readiness signal",
	})
	r.LastSignal = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_readiness_signal_timestamp_seconds",
		Help:      "Unix time of the last readiness signal consumed by the monitor",
	})

	r.InterfaceRxBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_rx_bytes",
		Help:      "Interface received bytes",
	}, []string{"interface"})
	r.InterfaceTxBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_tx_bytes",
		Help:      "Interface transmitted bytes",
	}, []string{"interface"})
	r.InterfaceRxPackets = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_rx_packets",
		Help:      "Interface received packets",
	}, []string{"interface"})
	r.InterfaceTxPackets = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_tx_packets",
		Help:      "Interface transmitted packets",
	}, []string{"interface"})
	r.InterfaceErrors = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_errors",
		Help:      "Interface errors by direction",
	}, []string{"interface", "direction"})
	r.InterfaceUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_up",
		Help:      "1 when the interface operstate is up",
	}, []string{"interface"})

	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordStageFailure counts a fatal bring-up failure.
func (r *Registry) RecordStageFailure(stage string) {
	r.StageFailures.WithLabelValues(stage).Inc()
}

// RecordProbe publishes the statistics of a finished probe.
func (r *Registry) RecordProbe(min, avg, max, stddev, lossRatio float64) {
	r.ProbeRTT.WithLabelValues("min").Set(min)
	r.ProbeRTT.WithLabelValues("avg").Set(avg)
	r.ProbeRTT.WithLabelValues("max").Set(max)
	r.ProbeRTT.WithLabelValues("stddev").Set(stddev)
	r.ProbeLoss.Set(lossRatio)
}
