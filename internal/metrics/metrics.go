// Package metrics exposes Prometheus instrumentation for evaluation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultPassed      = "passed"
	ResultFailed      = "failed"
	ResultInvokeError = "invoke_error"

	ReasonEvaluationNotFound = "evaluation_not_found"
	ReasonPipelineNotFound   = "pipeline_not_found"
	ReasonLookupError        = "lookup_error"
	ReasonPersistError       = "persist_error"
)

// DefaultInvokeBuckets span fast stubs up to the pipeline client's default timeout.
var DefaultInvokeBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 100,
}

// Recorder is what the run engine reports to.
type Recorder interface {
	RecordTrial(result string)
	RecordRunCompleted()
	RecordRunAbandoned(reason string)
	ObserveInvoke(seconds float64)
	SetQueueDepth(n int)
	WorkerBusy()
	WorkerIdle()
	RecordPanic()
}

// RunMetrics holds the Prometheus collectors for the run engine.
type RunMetrics struct {
	Trials         *prometheus.CounterVec
	RunsCompleted  prometheus.Counter
	RunsAbandoned  *prometheus.CounterVec
	InvokeDuration prometheus.Histogram
	QueueDepth     prometheus.Gauge
	BusyWorkers    prometheus.Gauge
	Panics         prometheus.Counter
}

var _ Recorder = (*RunMetrics)(nil)

// NewRunMetrics registers the collectors on the default registry.
func NewRunMetrics() *RunMetrics {
	return NewRunMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewRunMetricsWithRegisterer registers against reg. Tests pass
// prometheus.NewRegistry() for isolation.
func NewRunMetricsWithRegisterer(reg prometheus.Registerer) *RunMetrics {
	factory := promauto.With(reg)
	return &RunMetrics{
		Trials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evallab_trials_total",
			Help: "Trials executed by result (passed, failed, invoke_error)",
		}, []string{"result"}),

		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "evallab_runs_completed_total",
			Help: "Evaluation runs that executed every trial and were persisted",
		}),

		RunsAbandoned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evallab_runs_abandoned_total",
			Help: "Evaluation runs left in Running state, by reason",
		}, []string{"reason"}),

		InvokeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evallab_pipeline_invoke_duration_seconds",
			Help:    "Pipeline invocation latency in seconds",
			Buckets: DefaultInvokeBuckets,
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evallab_run_queue_depth",
			Help: "Evaluation runs waiting in the in-process queue",
		}),

		BusyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evallab_busy_workers",
			Help: "Workers currently processing an evaluation run",
		}),

		Panics: factory.NewCounter(prometheus.CounterOpts{
			Name: "evallab_processing_panics_total",
			Help: "Panics recovered while processing an evaluation run",
		}),
	}
}

func (m *RunMetrics) RecordTrial(result string) { m.Trials.WithLabelValues(result).Inc() }

func (m *RunMetrics) RecordRunCompleted() { m.RunsCompleted.Inc() }

func (m *RunMetrics) RecordRunAbandoned(reason string) {
	m.RunsAbandoned.WithLabelValues(reason).Inc()
}

func (m *RunMetrics) ObserveInvoke(seconds float64) { m.InvokeDuration.Observe(seconds) }

func (m *RunMetrics) SetQueueDepth(n int) { m.QueueDepth.Set(float64(n)) }

func (m *RunMetrics) WorkerBusy() { m.BusyWorkers.Inc() }

func (m *RunMetrics) WorkerIdle() { m.BusyWorkers.Dec() }

func (m *RunMetrics) RecordPanic() { m.Panics.Inc() }

// NoOp is a Recorder for when metrics are disabled.
type NoOp struct{}

var _ Recorder = NoOp{}

func (NoOp) RecordTrial(string)        {}
func (NoOp) RecordRunCompleted()       {}
func (NoOp) RecordRunAbandoned(string) {}
func (NoOp) ObserveInvoke(float64)     {}
func (NoOp) SetQueueDepth(int)         {}
func (NoOp) WorkerBusy()               {}
func (NoOp) WorkerIdle()               {}
func (NoOp) RecordPanic()              {}
