package health

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// StatusGauge exports verdict statuses as streambridge_health_status{component}
// with UP=1, DOWN=0 and UNKNOWN=-1.
type StatusGauge struct {
	gauge *prometheus.GaugeVec
}

// NewStatusGauge registers the gauge with registerer (default registerer when
// nil). Registering twice reuses the existing collector.
func NewStatusGauge(registerer prometheus.Registerer) (*StatusGauge, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streambridge",
		Subsystem: "health",
		Name:      "status",
		Help:      "Health status per component: 1 up, 0 down, -1 unknown",
	}, []string{"component"})

	if err := registerer.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		gauge = existing
	}
	return &StatusGauge{gauge: gauge}, nil
}

// Observe records the status of component.
func (g *StatusGauge) Observe(component string, status Status) {
	g.gauge.WithLabelValues(component).Set(statusValue(status))
}

// ObserveVerdict records the aggregate under "overall" and every nested
// facet verdict under its name.
func (g *StatusGauge) ObserveVerdict(v Verdict) {
	g.Observe("overall", v.Status)
	for _, detail := range v.Details {
		if facet, ok := detail.Value.(Verdict); ok {
			g.Observe(detail.Key, facet.Status)
		}
	}
}

// Instrument wraps an indicator so every verdict is recorded.
func (g *StatusGauge) Instrument(inner Indicator) Indicator {
	return IndicatorFunc(func(ctx context.Context) Verdict {
		v := inner.Health(ctx)
		g.ObserveVerdict(v)
		return v
	})
}

func statusValue(status Status) float64 {
	switch status {
	case StatusUp:
		return 1
	case StatusDown:
		return 0
	default:
		return -1
	}
}
