package monitoring

import (
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/ib-77/sieve/pkg/proc"
	"github.com/ib-77/sieve/pkg/sieve"
)

var (
	_ proc.Observer  = (*Metrics)(nil)
	_ sieve.Observer = (*Metrics)(nil)
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Process metrics
	ProcsSpawned *prometheus.CounterVec
	ProcsExited  *prometheus.CounterVec
	ProcsLive    prometheus.Gauge
	ProcDuration *prometheus.HistogramVec

	// Descriptor metrics
	PipesCreated    prometheus.Counter
	DescriptorsOpen prometheus.Gauge

	// Sieve metrics
	PrimesFound     prometheus.Counter
	ValuesForwarded prometheus.Counter
	ValuesDiscarded prometheus.Counter
	LargestPrime    prometheus.Gauge
}

// NewMetrics creates a metrics collector on its own registry, so several
// pipelines in one process do not collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProcsSpawned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sieve_procs_spawned_total",
				Help: "Total number of procs spawned",
			},
			[]string{"kind"},
		),
		ProcsExited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sieve_procs_exited_total",
				Help: "Total number of procs that exited",
			},
			[]string{"kind", "status"},
		),
		ProcsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sieve_procs_live",
				Help: "Number of procs spawned and not yet exited",
			},
		),
		ProcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sieve_proc_duration_seconds",
				Help:    "Proc lifetime in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),

		PipesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sieve_pipes_created_total",
				Help: "Total number of pipes created",
			},
		),
		DescriptorsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sieve_descriptors_open",
				Help: "Number of descriptors open across all tables",
			},
		),

		PrimesFound: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sieve_primes_found_total",
				Help: "Total number of primes reported",
			},
		),
		ValuesForwarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sieve_values_forwarded_total",
				Help: "Total number of candidates passed to a downstream stage",
			},
		),
		ValuesDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sieve_values_discarded_total",
				Help: "Total number of candidates dropped as multiples",
			},
		),
		LargestPrime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sieve_largest_prime",
				Help: "Largest prime reported so far",
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ProcStarted(name string) {
	m.ProcsSpawned.WithLabelValues(kindOf(name)).Inc()
	m.ProcsLive.Inc()
}

func (m *Metrics) ProcExited(name string, d time.Duration, err error) {
	kind := kindOf(name)
	m.ProcsExited.WithLabelValues(kind, statusOf(err)).Inc()
	m.ProcsLive.Dec()
	m.ProcDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) PipeCreated() {
	m.PipesCreated.Inc()
}

func (m *Metrics) DescriptorsOpened(n int) {
	m.DescriptorsOpen.Add(float64(n))
}

func (m *Metrics) DescriptorsClosed(n int) {
	m.DescriptorsOpen.Sub(float64(n))
}

// PrimeFound is called from one stage at a time in ascending order, so the
// latest value is also the largest.
func (m *Metrics) PrimeFound(prime int32) {
	m.PrimesFound.Inc()
	m.LargestPrime.Set(float64(prime))
}

func (m *Metrics) ValueForwarded(int32) {
	m.ValuesForwarded.Inc()
}

func (m *Metrics) ValueDiscarded(int32) {
	m.ValuesDiscarded.Inc()
}

// WriteText writes every metric in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	var families []*dto.MetricFamily
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// kindOf maps a proc name such as "filter/3" to its label value.
func kindOf(name string) string {
	if kind, _, ok := strings.Cut(name, "/"); ok {
		return kind
	}
	return name
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
