package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// MetricsSink records step outcomes and durations as Prometheus metrics.
type MetricsSink struct {
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec
}

var (
	_ ports.LogSink   = (*MetricsSink)(nil)
	_ ports.ErrorSink = (*MetricsSink)(nil)
)

// NewMetricsSink creates the pipeline metrics under namespace and registers
// them with reg.
func NewMetricsSink(namespace string, reg prometheus.Registerer) (*MetricsSink, error) {
	m := &MetricsSink{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Total number of executed pipeline steps",
		}, []string{"phase", "step", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of pipeline steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "step"}),
		StepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_step_errors_total",
			Help:      "Total number of step errors",
		}, []string{"step"}),
	}

	for _, c := range []prometheus.Collector{m.StepsTotal, m.StepDuration, m.StepErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsSink) Record(_ context.Context, _ string, entry domain.StepLog) error {
	m.StepsTotal.WithLabelValues(entry.Phase, entry.Step, string(entry.Status)).Inc()
	m.StepDuration.WithLabelValues(entry.Phase, entry.Step).
		Observe((time.Duration(entry.DurationMs) * time.Millisecond).Seconds())
	return nil
}

func (m *MetricsSink) Report(_ context.Context, _ string, rec domain.ErrorRecord) error {
	m.StepErrors.WithLabelValues(rec.Step).Inc()
	return nil
}
