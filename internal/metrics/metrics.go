// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"house_hunter/internal/domain"
)

// Collector records listing outcomes and run summaries.
type Collector struct {
	outcomes       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	unresolved     *prometheus.CounterVec
	lookupsSkipped prometheus.Counter
	runDuration    prometheus.Histogram
	runs           *prometheus.CounterVec
	lastSuccess    prometheus.Gauge

	mu   sync.RWMutex
	last *domain.RunReport
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "house_hunter_listing_outcomes_total",
			Help: "Listings processed, by reconciliation action.",
		}, []string{"action"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "house_hunter_listing_failures_total",
			Help: "Listings that did not reach the store, by stage.",
		}, []string{"stage"}),
		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "house_hunter_unresolved_fields_total",
			Help: "Derived fields left unresolved, by field.",
		}, []string{"field"}),
		lookupsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "house_hunter_lookups_skipped_total",
			Help: "Provider lookups avoided because the stored value was reused.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "house_hunter_run_duration_seconds",
			Help:    "Pipeline run duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "house_hunter_runs_total",
			Help: "Pipeline runs, by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "house_hunter_last_success_timestamp_seconds",
			Help: "Unix time of the last run that was not interrupted.",
		}),
	}

	reg.MustRegister(
		c.outcomes,
		c.failures,
		c.unresolved,
		c.lookupsSkipped,
		c.runDuration,
		c.runs,
		c.lastSuccess,
	)

	return c
}

func (c *Collector) RecordOutcome(action domain.Action) {
	c.outcomes.WithLabelValues(string(action)).Inc()
}

func (c *Collector) RecordFailure(stage string) {
	c.failures.WithLabelValues(stage).Inc()
}

func (c *Collector) RecordUnresolved(field string, n int) {
	if n <= 0 {
		return
	}
	c.unresolved.WithLabelValues(field).Add(float64(n))
}

func (c *Collector) RecordLookupsSkipped(n int) {
	if n <= 0 {
		return
	}
	c.lookupsSkipped.Add(float64(n))
}

// RecordRun observes a finished run and keeps its report for /runs/last.
func (c *Collector) RecordRun(report *domain.RunReport, d time.Duration) {
	c.runDuration.Observe(d.Seconds())

	result := "completed"
	if report.Interrupted {
		result = "interrupted"
	} else {
		c.lastSuccess.Set(float64(report.StartedAt.Add(d).Unix()))
	}
	c.runs.WithLabelValues(result).Inc()

	snapshot := *report
	snapshot.Failures = append([]domain.Failure(nil), report.Failures...)

	c.mu.Lock()
	c.last = &snapshot
	c.mu.Unlock()
}

// LastRun returns the most recent report, or nil before the first run.
func (c *Collector) LastRun() *domain.RunReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// NewRouter serves /metrics, /healthz and /runs/last.
func NewRouter(c *Collector, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/runs/last", func(w http.ResponseWriter, _ *http.Request) {
		report := c.LastRun()
		if report == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newRunSummary(report))
	})

	return r
}

type runSummary struct {
	RunID       string           `json:"run_id"`
	SourceID    string           `json:"source_id"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    string           `json:"duration"`
	Fetched     int              `json:"fetched"`
	Malformed   int              `json:"malformed"`
	Duplicates  int              `json:"duplicates"`
	Created     int              `json:"created"`
	Updated     int              `json:"updated"`
	Unchanged   int              `json:"unchanged"`
	Failed      int              `json:"failed"`
	Interrupted bool             `json:"interrupted"`
	Failures    []domain.Failure `json:"failures,omitempty"`
}

func newRunSummary(r *domain.RunReport) runSummary {
	return runSummary{
		RunID:       r.RunID,
		SourceID:    r.SourceID,
		StartedAt:   r.StartedAt,
		Duration:    r.Duration.String(),
		Fetched:     r.Fetched,
		Malformed:   r.Malformed,
		Duplicates:  r.Duplicates,
		Created:     r.Created,
		Updated:     r.Updated,
		Unchanged:   r.Unchanged,
		Failed:      r.Failed,
		Interrupted: r.Interrupted,
		Failures:    r.Failures,
	}
}
