package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RunOutcomeCompleted      = "completed"
	RunOutcomeFailed         = "failed"
	RunOutcomeAlreadyRunning = "already_running"
)

const (
	TagActionActivated   = "activated"
	TagActionDeactivated = "deactivated"
	TagActionFailed      = "failed"
)

// Config carries the const labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

// SyncMetrics captures sync-engine health signals.
type SyncMetrics struct {
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	eventsDispatched prometheus.Counter
	batchFailures    prometheus.Counter
	tagUpdates       *prometheus.CounterVec
	triggersReceived *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "chargesync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chargesync_sync_runs_total",
		Help:        "Sync runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "chargesync_sync_run_duration_seconds",
		Help:        "End-to-end sync run latency.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	eventsDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chargesync_billing_events_dispatched_total",
		Help:        "Usage events accepted by the billing platform.",
		ConstLabels: constLabels,
	})
	batchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chargesync_billing_batch_failures_total",
		Help:        "Event batches that exhausted retries.",
		ConstLabels: constLabels,
	})
	tagUpdates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chargesync_tag_updates_total",
		Help:        "Tag authorization updates by action.",
		ConstLabels: constLabels,
	}, []string{"action"})
	triggersReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chargesync_manual_triggers_total",
		Help:        "Manual sync triggers received on the pub/sub channel.",
		ConstLabels: constLabels,
	}, []string{"source"})

	registerer.MustRegister(runs, runDuration, eventsDispatched, batchFailures, tagUpdates, triggersReceived)

	return &SyncMetrics{
		runs:             runs,
		runDuration:      runDuration,
		eventsDispatched: eventsDispatched,
		batchFailures:    batchFailures,
		tagUpdates:       tagUpdates,
		triggersReceived: triggersReceived,
	}
}

func (m *SyncMetrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *SyncMetrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

func (m *SyncMetrics) AddEventsDispatched(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.eventsDispatched.Add(float64(count))
}

func (m *SyncMetrics) IncBatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

func (m *SyncMetrics) IncTagUpdate(action string) {
	if m == nil {
		return
	}
	m.tagUpdates.WithLabelValues(action).Inc()
}

func (m *SyncMetrics) IncTriggerReceived(source string) {
	if m == nil {
		return
	}
	m.triggersReceived.WithLabelValues(source).Inc()
}
