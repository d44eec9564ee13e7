package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phase labels the pipeline phase of a check.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// CacheLookupOutcome captures the result of a decision-cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit  CacheLookupOutcome = "hit"
	CacheLookupMiss CacheLookupOutcome = "miss"
)

// FlushOutcome labels the result of a journal flush.
type FlushOutcome string

const (
	FlushOK    FlushOutcome = "ok"
	FlushError FlushOutcome = "error"
)

// Recorder publishes Prometheus metrics for pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	checkRequests  *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	moduleBlocks   *prometheus.CounterVec
	moduleFailures *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	activeBans     prometheus.Gauge
	journalFlushes *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	checkRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwaf",
		Subsystem: "check",
		Name:      "requests_total",
		Help:      "Total check evaluations processed by the pipeline.",
	}, []string{"phase", "action", "from_cache"})

	checkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rwaf",
		Subsystem: "check",
		Name:      "duration_seconds",
		Help:      "Latency distribution for completed check evaluations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"phase"})

	moduleBlocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwaf",
		Subsystem: "module",
		Name:      "blocks_total",
		Help:      "Block verdicts returned by each detection module.",
	}, []string{"module"})

	moduleFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwaf",
		Subsystem: "module",
		Name:      "failures_total",
		Help:      "Detection module invocations recovered from a panic.",
	}, []string{"module"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwaf",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Decision cache lookups by outcome.",
	}, []string{"outcome"})

	activeBans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rwaf",
		Subsystem: "bans",
		Name:      "active",
		Help:      "Number of bans currently in force.",
	})

	journalFlushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwaf",
		Subsystem: "journal",
		Name:      "flushes_total",
		Help:      "Journal flush attempts by journal and outcome.",
	}, []string{"journal", "outcome"})

	reg.MustRegister(checkRequests, checkDuration, moduleBlocks, moduleFailures, cacheLookups, activeBans, journalFlushes)

	return &Recorder{
		gatherer:       reg,
		handler:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		checkRequests:  checkRequests,
		checkDuration:  checkDuration,
		moduleBlocks:   moduleBlocks,
		moduleFailures: moduleFailures,
		cacheLookups:   cacheLookups,
		activeBans:     activeBans,
		journalFlushes: journalFlushes,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCheck records the outcome and latency of one pipeline evaluation.
func (r *Recorder) ObserveCheck(phase Phase, action string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.checkRequests.WithLabelValues(string(phase), normalizeLabel(action), cacheLabel).Inc()
	r.checkDuration.WithLabelValues(string(phase)).Observe(duration.Seconds())
}

// ObserveModuleBlock counts a block verdict attributed to a module.
func (r *Recorder) ObserveModuleBlock(module string) {
	if r == nil {
		return
	}
	r.moduleBlocks.WithLabelValues(normalizeLabel(module)).Inc()
}

// ObserveModuleFailure counts a module invocation that panicked.
func (r *Recorder) ObserveModuleFailure(module string) {
	if r == nil {
		return
	}
	r.moduleFailures.WithLabelValues(normalizeLabel(module)).Inc()
}

// ObserveCacheLookup records a decision-cache lookup outcome.
func (r *Recorder) ObserveCacheLookup(outcome CacheLookupOutcome) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(string(outcome)).Inc()
}

// SetActiveBans publishes the current number of in-force bans.
func (r *Recorder) SetActiveBans(n int) {
	if r == nil {
		return
	}
	r.activeBans.Set(float64(n))
}

// ObserveJournalFlush records a flush attempt for the named journal.
func (r *Recorder) ObserveJournalFlush(journal string, err error) {
	if r == nil {
		return
	}
	outcome := FlushOK
	if err != nil {
		outcome = FlushError
	}
	r.journalFlushes.WithLabelValues(normalizeLabel(journal), string(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
