// Package metrics exports research run events to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mikeboe/research-loop/pkg/research"
)

const namespace = "research"

// Recorder implements research.Observer. One Recorder may be shared by
// concurrent runs.
type Recorder struct {
	runs           *prometheus.CounterVec
	active         prometheus.Gauge
	stages         *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	snippets       prometheus.Counter
	decisions      *prometheus.CounterVec
	loops          prometheus.Histogram
}

var _ research.Observer = (*Recorder)(nil)

// NewRecorder registers the research metrics with reg, or with the default
// registerer when reg is nil.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished research runs by outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Research runs currently executing.",
		}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Stages entered by research runs.",
		}, []string{"stage"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_calls_total",
			Help:      "Searcher calls by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of individual Searcher calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		snippets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snippets_collected_total",
			Help:      "Snippets returned by successful searches.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Loop decisions by reason.",
		}, []string{"reason"}),
		loops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loops_per_run",
			Help:      "Reflection rounds used by finished runs.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	collectors := []prometheus.Collector{
		r.runs, r.active, r.stages, r.searches, r.searchDuration, r.snippets, r.decisions, r.loops,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register research metrics: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) StageEntered(stage research.Stage) {
	if stage == research.StageGenerate {
		r.active.Inc()
	}
	r.stages.WithLabelValues(stage.String()).Inc()
}

func (r *Recorder) SearchFinished(query research.Query, snippets int, elapsed time.Duration, err error) {
	r.searchDuration.Observe(elapsed.Seconds())
	switch {
	case err == nil:
		r.searches.WithLabelValues("ok").Inc()
		r.snippets.Add(float64(snippets))
	case errors.Is(err, research.ErrSearchTimeout):
		r.searches.WithLabelValues("timeout").Inc()
	default:
		r.searches.WithLabelValues("error").Inc()
	}
}

func (r *Recorder) Decided(decision research.Decision) {
	r.decisions.WithLabelValues(string(decision.Reason)).Inc()
}

func (r *Recorder) RunFinished(state research.State, err error) {
	r.active.Dec()
	if err != nil {
		outcome := "failed"
		if stage, ok := research.FailedStage(err); ok {
			outcome += "_" + stage.String()
		}
		r.runs.WithLabelValues(outcome).Inc()
		return
	}
	r.runs.WithLabelValues("completed").Inc()
	r.loops.Observe(float64(state.LoopCount))
}
