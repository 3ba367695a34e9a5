package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus and adds
// pipeline stage instrumentation.
type Recorder struct {
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	scores       *prometheus.GaugeVec
	latency      *prometheus.HistogramVec

	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageLastOK   *prometheus.GaugeVec
	rowsWritten   *prometheus.CounterVec
	regime        *prometheus.GaugeVec
	external      *prometheus.CounterVec
	gridEvals     prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultRec  *Recorder
)

// New returns the process wide recorder registered on the default registry.
func New() *Recorder {
	defaultOnce.Do(func() { defaultRec = NewWithRegisterer(prometheus.DefaultRegisterer) })
	return defaultRec
}

// NewWithRegisterer builds a recorder on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpull_messages_sent_total",
				Help: "Total number of messages sent to a sink backend",
			},
			[]string{"backend", "kind"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		scores: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskpull_score",
				Help: "Last computed score by name (composite, risk_index_bin, fs_score)",
			},
			[]string{"name"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		stageRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpull_stage_runs_total",
				Help: "Pipeline stage runs by result",
			},
			[]string{"stage", "result"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskpull_stage_duration_seconds",
				Help:    "Pipeline stage wall time",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		stageLastOK: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskpull_stage_last_success_timestamp_seconds",
				Help: "Unix time of the last successful stage run",
			},
			[]string{"stage"},
		),
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpull_rows_written_total",
				Help: "Rows written per artifact",
			},
			[]string{"artifact"},
		),
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskpull_regime",
				Help: "1 for the current regime label, 0 otherwise",
			},
			[]string{"regime"},
		),
		external: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskpull_external_requests_total",
				Help: "Requests to external APIs by status",
			},
			[]string{"service", "status"},
		),
		gridEvals: f.NewCounter(
			prometheus.CounterOpts{
				Name: "riskpull_optimizer_evaluations_total",
				Help: "Parameter sets evaluated by the optimizer",
			},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, kind string) {
	r.messagesSent.WithLabelValues(backend, kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordScore(name string, value float64) {
	r.scores.WithLabelValues(name).Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordStage records one stage run.
func (r *Recorder) RecordStage(stage string, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		r.stageLastOK.WithLabelValues(stage).SetToCurrentTime()
	}
	r.stageRuns.WithLabelValues(stage, result).Inc()
	r.stageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

func (r *Recorder) RecordRows(artifact string, n int) {
	r.rowsWritten.WithLabelValues(artifact).Add(float64(n))
}

// RecordRegime flags the active regime and clears the others.
func (r *Recorder) RecordRegime(current string, all []string) {
	for _, name := range all {
		v := 0.0
		if name == current {
			v = 1
		}
		r.regime.WithLabelValues(name).Set(v)
	}
}

func (r *Recorder) RecordExternal(service string, status int) {
	r.external.WithLabelValues(service, statusLabel(status)).Inc()
}

func (r *Recorder) RecordGridEvaluations(n int) {
	r.gridEvals.Add(float64(n))
}

func statusLabel(code int) string {
	switch {
	case code == 0:
		return "transport_error"
	case code == 429:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
