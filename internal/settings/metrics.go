package settings

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Catalog = (*Instrumented)(nil)

// Instrumented wraps a Catalog with Prometheus operation counters and
// latency histograms.
type Instrumented struct {
	inner    Catalog
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Instrument wraps c and registers its collectors with reg. A nil reg skips
// registration.
func Instrument(c Catalog, reg prometheus.Registerer) (*Instrumented, error) {
	i := &Instrumented{
		inner: c,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settings_operations_total",
			Help: "Settings operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settings_operation_duration_seconds",
			Help:    "Latency of settings operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
	}
	if reg != nil {
		ops, err := register(reg, i.ops)
		if err != nil {
			return nil, err
		}
		duration, err := register(reg, i.duration)
		if err != nil {
			return nil, err
		}
		i.ops, i.duration = ops, duration
	}
	return i, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered so several accessors can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	i.ops.WithLabelValues(op, result).Inc()
}

func (i *Instrumented) Store(key, value string) error {
	start := time.Now()
	err := i.inner.Store(key, value)
	i.observe("store", start, err)
	return err
}

// Retrieve counts a miss as result="miss".
func (i *Instrumented) Retrieve(key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := i.inner.Retrieve(key)
	i.duration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		i.ops.WithLabelValues("retrieve", "error").Inc()
	case !ok:
		i.ops.WithLabelValues("retrieve", "miss").Inc()
	default:
		i.ops.WithLabelValues("retrieve", "ok").Inc()
	}
	return value, ok, err
}

func (i *Instrumented) Remove(key string) error {
	start := time.Now()
	err := i.inner.Remove(key)
	i.observe("remove", start, err)
	return err
}

func (i *Instrumented) List() ([]Setting, error) {
	start := time.Now()
	out, err := i.inner.List()
	i.observe("list", start, err)
	return out, err
}
