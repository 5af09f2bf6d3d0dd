package permission

import "github.com/prometheus/client_golang/prometheus"

var resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "capture_permission_resolutions_total",
	Help: "Permission resolutions by the rule that produced the view.",
}, []string{"source"})

func init() {
	prometheus.MustRegister(resolutionsTotal)
}
