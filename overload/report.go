package overload

import "github.com/prometheus/client_golang/prometheus"

// Reporter receives per-check observability samples when a flow-control
// config entry's is_report flag is set. This is plain metrics reporting,
// not the RPCZ span/telemetry subsystem (explicitly out of scope).
type Reporter interface {
	ReportLimiter(name, kind string, current, max int64, admitted bool)
}

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowrpc",
		Subsystem: "overload",
		Name:      "checks_total",
		Help:      "Total admission checks per limiter, partitioned by outcome.",
	}, []string{"name", "kind", "outcome"})

	currentGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowrpc",
		Subsystem: "overload",
		Name:      "current_count",
		Help:      "Most recently observed current-window count per limiter.",
	}, []string{"name", "kind"})
)

func init() {
	prometheus.MustRegister(checksTotal, currentGauge)
}

// PromReporter is the default Reporter, backed by prometheus client_golang
// counters/gauges registered against the default registry.
type PromReporter struct{}

func (PromReporter) ReportLimiter(name, kind string, current, max int64, admitted bool) {
	outcome := "reject"
	if admitted {
		outcome = "admit"
	}
	checksTotal.WithLabelValues(name, kind, outcome).Inc()
	currentGauge.WithLabelValues(name, kind).Set(float64(current))
	_ = max // retained in the signature for parity with the source's tags; not separately reported
}
