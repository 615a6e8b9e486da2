// Package metrics exposes engine counters behind small interfaces so
// components can run with or without a Prometheus registry.
package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	Checks           Counter
	Opportunities    Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	BothFilled       Counter
	OneLegFilled     Counter
	NoneFilled       Counter
	UnwindAttempts   Counter
	MergesSucceeded  Counter
	MergesFailed     Counter
	StreamReconnects Counter
	Halted           Gauge
	Markets          Gauge
}

type noop struct{}

func (noop) Inc()        {}
func (noop) Set(float64) {}

func NewNoop() *Metrics {
	n := noop{}
	return &Metrics{
		Checks:           n,
		Opportunities:    n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		BothFilled:       n,
		OneLegFilled:     n,
		NoneFilled:       n,
		UnwindAttempts:   n,
		MergesSucceeded:  n,
		MergesFailed:     n,
		StreamReconnects: n,
		Halted:           n,
		Markets:          n,
	}
}
