package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion outcome labels. Every delivery lands on exactly one of them.
const (
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeValidated = "validated"
)

// Outcomes counts webhook deliveries by their terminal ingestion outcome.
type Outcomes struct {
	received prometheus.Counter
	outcomes *prometheus.CounterVec
}

// NewOutcomes creates the ingestion outcome counters.
func NewOutcomes(reg prometheus.Registerer) (*Outcomes, error) {
	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_webhooks_received_total",
		Help: "Number of webhook deliveries received, regardless of outcome.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_webhooks_total",
		Help: "Number of webhook deliveries by terminal ingestion outcome.",
	}, []string{"outcome"})

	for _, c := range []prometheus.Collector{received, outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register outcome metrics: %v", err)
		}
	}

	return &Outcomes{received: received, outcomes: outcomes}, nil
}

// Received counts an inbound delivery before its outcome is known.
func (o *Outcomes) Received() {
	o.received.Inc()
}

// Record counts a delivery's terminal outcome.
func (o *Outcomes) Record(outcome string) {
	o.outcomes.WithLabelValues(outcome).Inc()
}
