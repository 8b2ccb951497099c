package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verification engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProofChecks           *prometheus.CounterVec
	ProofCheckDuration    *prometheus.HistogramVec
	AttestationsIssued    *prometheus.CounterVec
	AttestationsRevoked   *prometheus.CounterVec
	SigningKeysCreated    prometheus.Counter
	ReverificationJobs    *prometheus.CounterVec
	ReverificationBatches prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProofChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenverif_proof_checks_total",
			Help: "Total number of proof checks by proof type and resulting status",
		}, []string{"type", "status"}),
		ProofCheckDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenverif_proof_check_duration_seconds",
			Help:    "Duration of a single proof check including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		AttestationsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenverif_attestations_issued_total",
			Help: "Total number of attestations issued by tier",
		}, []string{"tier"}),
		AttestationsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenverif_attestations_revoked_total",
			Help: "Total number of attestations revoked by reason",
		}, []string{"reason"}),
		SigningKeysCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "tokenverif_signing_keys_created_total",
			Help: "Total number of signing keys generated",
		}),
		ReverificationJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenverif_reverification_jobs_total",
			Help: "Total number of re-verification jobs by outcome",
		}, []string{"outcome"}),
		ReverificationBatches: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenverif_reverification_batch_duration_seconds",
			Help:    "Duration of one re-verification batch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) ObserveProofCheck(proofType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProofChecks.WithLabelValues(proofType, status).Inc()
	m.ProofCheckDuration.WithLabelValues(proofType).Observe(d.Seconds())
}

func (m *Metrics) IncAttestationsIssued(tier string) {
	if m == nil {
		return
	}
	m.AttestationsIssued.WithLabelValues(tier).Inc()
}

// IncAttestationsRevoked records a revocation. Free-form reasons are bucketed
// by the caller to keep label cardinality bounded.
func (m *Metrics) IncAttestationsRevoked(reason string) {
	if m == nil {
		return
	}
	m.AttestationsRevoked.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSigningKeysCreated() {
	if m == nil {
		return
	}
	m.SigningKeysCreated.Inc()
}

func (m *Metrics) IncReverificationJob(outcome string) {
	if m == nil {
		return
	}
	m.ReverificationJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReverificationBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.ReverificationBatches.Observe(d.Seconds())
}
