package collection

import "github.com/prometheus/client_golang/prometheus"

var (
	collectionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capture_collections_created_total",
		Help: "Collections created since start.",
	})
	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capture_audit_write_failures_total",
		Help: "Audit events that could not be persisted.",
	})
)

func init() {
	prometheus.MustRegister(collectionsCreated, auditFailures)
}
