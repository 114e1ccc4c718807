package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the contract core.
type Metrics struct {
	ContractsFinalized prometheus.Counter
	ContractsCancelled prometheus.Counter
	SignaturesRecorded *prometheus.CounterVec
	TokensIssued       prometheus.Counter
	TokenValidations   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ContractsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contracts_finalized_total",
			Help: "Total number of contracts finalized (content frozen and hashed)",
		}),
		ContractsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contracts_cancelled_total",
			Help: "Total number of contracts cancelled before completion",
		}),
		SignaturesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_signatures_recorded_total",
			Help: "Signature records written, partitioned by signature kind",
		}, []string{"kind"}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verification_tokens_issued_total",
			Help: "Verification tokens issued for external signing",
		}),
		TokenValidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_token_validations_total",
			Help: "Token validation attempts, partitioned by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveSignature increments the signature counter for a kind.
func (m *Metrics) ObserveSignature(kind string) {
	if m == nil {
		return
	}
	m.SignaturesRecorded.WithLabelValues(kind).Inc()
}

// ObserveTokenValidation increments the validation counter for an outcome.
func (m *Metrics) ObserveTokenValidation(outcome string) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(outcome).Inc()
}
