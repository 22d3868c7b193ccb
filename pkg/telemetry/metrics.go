package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lemniscat/lemniscat/pkg/engine"
)

// Metrics collects run metrics in a private Prometheus registry. It
// implements engine.Observer.
type Metrics struct {
	config MetricsConfig

	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	tasks            *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	tasksSkipped     *prometheus.CounterVec
	capabilityStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	namespace := cfg.Namespace

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of completed runs",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of dispatched tasks",
			},
			[]string{"capability", "executor", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Time spent in executors in seconds",
				Buckets:   buckets,
			},
			[]string{"capability", "executor"},
		),
		tasksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_skipped_total",
				Help:      "Total number of tasks considered but not dispatched",
			},
			[]string{"capability", "reason"},
		),
		capabilityStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capability_status",
				Help:      "Final capability status: 0 pending, 1 running, 2 finished, 3 failed",
			},
			[]string{"capability"},
		),
	}

	if err := m.register(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) register() error {
	for _, c := range []prometheus.Collector{
		m.runs,
		m.runDuration,
		m.tasks,
		m.taskDuration,
		m.tasksSkipped,
		m.capabilityStatus,
	} {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// RunCompleted implements engine.Observer.
func (m *Metrics) RunCompleted(status engine.Status, duration time.Duration) {
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// CapabilityCompleted implements engine.Observer.
func (m *Metrics) CapabilityCompleted(capability string, status engine.Status) {
	m.capabilityStatus.WithLabelValues(capability).Set(statusValue(status))
}

// TaskCompleted implements engine.Observer.
func (m *Metrics) TaskCompleted(capability string, task *engine.Task) {
	m.tasks.WithLabelValues(capability, task.Name, string(task.Status)).Inc()
	m.taskDuration.WithLabelValues(capability, task.Name).Observe(task.Duration.Seconds())
}

// TaskSkipped implements engine.Observer.
func (m *Metrics) TaskSkipped(capability string, task *engine.Task) {
	reason := string(task.Skipped)
	if reason == "" {
		reason = "unknown"
	}
	m.tasksSkipped.WithLabelValues(capability, reason).Inc()
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile writes the metrics to path in Prometheus text format. The file
// is replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// Flush writes the metrics to the configured file, if any.
func (m *Metrics) Flush() error {
	if m.config.File == "" {
		return nil
	}
	return m.WriteFile(m.config.File)
}

func statusValue(status engine.Status) float64 {
	switch status {
	case engine.StatusRunning:
		return 1
	case engine.StatusFinished:
		return 2
	case engine.StatusFailed:
		return 3
	default:
		return 0
	}
}
