package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "polyarb"

type Prometheus struct {
	Metrics *Metrics

	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	merges     *prometheus.CounterVec
	checks     prometheus.Counter
	halted     prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: promNamespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: promNamespace, Name: name, Help: help})
	}

	checks := counter("checks_total", "Markets evaluated with both books sufficient.")
	opportunities := counter("opportunities_total", "Opportunities emitted by the sizer.")
	ordersPlaced := counter("orders_placed_total", "Order submissions that reached the venue.")
	ordersFailed := counter("orders_failed_total", "Order submissions that errored.")
	unwinds := counter("unwind_attempts_total", "Emergency unwind sell attempts.")
	reconnects := counter("stream_reconnects_total", "Streaming feed reconnects.")
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "executions_total",
		Help:      "Paired-order executions by outcome.",
	}, []string{"outcome"})
	merges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "merges_total",
		Help:      "Settlement merges by result.",
	}, []string{"result"})
	halted := gauge("halted", "1 when trading is halted.")
	markets := gauge("markets", "Markets currently monitored.")

	registry.MustRegister(checks, opportunities, ordersPlaced, ordersFailed, unwinds, reconnects,
		executions, merges, halted, markets)

	m := &Metrics{
		Checks:           checks,
		Opportunities:    opportunities,
		OrdersPlaced:     ordersPlaced,
		OrdersFailed:     ordersFailed,
		BothFilled:       executions.WithLabelValues("both_filled"),
		OneLegFilled:     executions.WithLabelValues("one_leg_filled"),
		NoneFilled:       executions.WithLabelValues("none_filled"),
		UnwindAttempts:   unwinds,
		MergesSucceeded:  merges.WithLabelValues("merged"),
		MergesFailed:     merges.WithLabelValues("failed"),
		StreamReconnects: reconnects,
		Halted:           halted,
		Markets:          markets,
	}

	return &Prometheus{
		Metrics:    m,
		registry:   registry,
		executions: executions,
		merges:     merges,
		checks:     checks,
		halted:     halted,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
