package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for verification flows. All
// methods are safe on a nil receiver so collaborators can run without it.
type Metrics struct {
	Initiations      *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	Webhooks         *prometheus.CounterVec
	CacheLatency     *prometheus.HistogramVec
	Notifications    *prometheus.CounterVec
}

// New registers collectors with reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Initiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_initiations_total",
			Help: "Verification initiations by step and outcome",
		}, []string{"step", "outcome"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_verifications_total",
			Help: "Verify calls by step and outcome",
		}, []string{"step", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_provider_request_duration_seconds",
			Help:    "Latency of verification provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		ProviderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_provider_failures_total",
			Help: "Provider failures by reason",
		}, []string{"reason"}),
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_webhooks_total",
			Help: "Webhook deliveries by result",
		}, []string{"result"}),
		CacheLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_cache_operation_duration_seconds",
			Help:    "Correlation cache operation latency",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"operation"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_notifications_total",
			Help: "Downstream status notifications by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncInitiation(step, outcome string) {
	if m != nil {
		m.Initiations.WithLabelValues(step, outcome).Inc()
	}
}

func (m *Metrics) IncVerification(step, outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(step, outcome).Inc()
	}
}

func (m *Metrics) ObserveProvider(operation string, seconds float64) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(operation).Observe(seconds)
	}
}

func (m *Metrics) IncProviderFailure(reason string) {
	if m != nil {
		m.ProviderFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncWebhook(result string) {
	if m != nil {
		m.Webhooks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveCache(operation string, seconds float64) {
	if m != nil {
		m.CacheLatency.WithLabelValues(operation).Observe(seconds)
	}
}

func (m *Metrics) IncNotification(result string) {
	if m != nil {
		m.Notifications.WithLabelValues(result).Inc()
	}
}
