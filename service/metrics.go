package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agri-inference-service/model"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	detections   *prometheus.CounterVec
	tierFailures *prometheus.CounterVec
	modelState   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		detections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agri_detections_total",
			Help: "Detection results returned, by the tier that produced them.",
		}, []string{"method"}),
		tierFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agri_detection_tier_failures_total",
			Help: "Tier attempts that failed and fell through to the next tier.",
		}, []string{"tier"}),
		modelState: f.NewGauge(prometheus.GaugeOpts{
			Name: "agri_model_state",
			Help: "On-device model state: 0 unloaded, 1 loading, 2 ready, 3 failed.",
		}),
	}
}

func (m *Metrics) detection(method Method) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(string(method)).Inc()
}

func (m *Metrics) tierFailure(tier Method) {
	if m == nil {
		return
	}
	m.tierFailures.WithLabelValues(string(tier)).Inc()
}

// ObserveModelState is meant to be passed to model.WithStateObserver.
func (m *Metrics) ObserveModelState(s model.State) {
	if m == nil {
		return
	}
	m.modelState.Set(float64(s))
}
