package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the configuration-lifecycle metrics exposed on /metrics.
type Metrics struct {
	// PatchCounter counts config patch outcomes.
	// Labels: outcome (applied|stale|invalid|parse|store|write|read|current_invalid)
	PatchCounter *prometheus.CounterVec

	// PlaintextSecrets is the number of sensitive config values currently
	// persisted in plaintext. Non-zero means secret protection degraded
	// (store unavailable at write time); it should alert.
	PlaintextSecrets prometheus.Gauge

	// SecretStoreOps counts secret store operations.
	// Labels: backend (keyring|memory|none), op (get|set|delete),
	// status (ok|miss|unavailable|error)
	SecretStoreOps *prometheus.CounterVec

	// WizardSessions counts wizard sessions by flow and terminal status.
	// Labels: flow, status (done|cancelled|error)
	WizardSessions *prometheus.CounterVec

	// WizardActive is the number of sessions currently held in memory.
	WizardActive prometheus.Gauge

	// WSConnections is the number of connected control-plane clients.
	WSConnections prometheus.Gauge
}

// NewMetrics registers the metric set with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PatchCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_config_patches_total",
			Help: "Config patch attempts by outcome.",
		}, []string{"outcome"}),

		PlaintextSecrets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perch_config_plaintext_secrets",
			Help: "Sensitive config values currently persisted in plaintext.",
		}),

		SecretStoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_secret_store_ops_total",
			Help: "Secret store operations by backend, op, and status.",
		}, []string{"backend", "op", "status"}),

		WizardSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_wizard_sessions_total",
			Help: "Wizard sessions reaching a terminal status, by flow.",
		}, []string{"flow", "status"}),

		WizardActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perch_wizard_active_sessions",
			Help: "Wizard sessions currently held in memory.",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perch_ws_connections",
			Help: "Connected control-plane websocket clients.",
		}),
	}
}
