// Package metrics records protocol operation counts and latencies with
// Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names.
const (
	OpGenerateIdentity = "generate_identity"
	OpEncrypt          = "encrypt"
	OpDecrypt          = "decrypt"
)

// Outcome labels.
const (
	OutcomeOK               = "ok"
	OutcomeAlreadyDecrypted = "already_decrypted"
	OutcomeAuthFailed       = "auth_failed"
	OutcomeKeyMissing       = "key_missing"
	OutcomeMalformedKey     = "malformed_key"
	OutcomeError            = "error"
)

// Recorder observes protocol operations. The zero value and a nil
// *Recorder are valid and record nothing.
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates a Recorder and registers its collectors with reg. A nil
// registerer returns a Recorder with unregistered collectors. Collectors
// already registered with reg are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confide",
		Name:      "operations_total",
		Help:      "Protocol operations by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confide",
		Name:      "operation_duration_seconds",
		Help:      "Protocol operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"operation"})

	if reg != nil {
		var err error
		if operations, err = registerOrReuse(reg, operations); err != nil {
			return nil, err
		}
		if duration, err = registerOrReuse(reg, duration); err != nil {
			return nil, err
		}
	}

	return &Recorder{operations: operations, duration: duration}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
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

// Observe records one operation that started at start.
func (r *Recorder) Observe(operation, outcome string, start time.Time) {
	if r == nil || r.operations == nil {
		return
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
