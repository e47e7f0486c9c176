package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "closedai"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnsAppended *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolDeniedTotal       *prometheus.CounterVec

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration prometheus.Histogram
	agentRunTurns    prometheus.Histogram

	retryQueueDepth    prometheus.Gauge
	retryQueueOutcomes *prometheus.CounterVec

	commitTotal      *prometheus.CounterVec
	channelErrors    *prometheus.CounterVec
	messagesReceived prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "lane_queue_size",
					Help:      "Current command queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "lane_enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "lane_dequeue_total",
					Help:      "Total completed lane tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_task_duration_seconds",
					Help:      "Lane task execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			turnsAppended: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_appended_total",
					Help:      "Total turns appended to the log by role.",
				},
				[]string{"role"},
			),
			storeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_operation_duration_seconds",
					Help:      "Durable store operation duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolDeniedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_denied_total",
					Help:      "Tool calls rejected by the safety policy.",
				},
				[]string{"tool"},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "completion_total",
					Help:      "Completion API calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "completion_duration_seconds",
					Help:      "Completion API call duration in seconds.",
					Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
				},
				[]string{"provider"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total orchestrator runs by outcome.",
				},
				[]string{"outcome"},
			),
			agentRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Orchestrator run duration in seconds.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
			agentRunTurns: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_turns",
					Help:      "Completion turns used per orchestrator run.",
					Buckets:   prometheus.LinearBuckets(1, 1, 10),
				},
			),
			retryQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "retry_queue_pending",
					Help:      "Pending items in the retry queue.",
				},
			),
			retryQueueOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "retry_queue_outcome_total",
					Help:      "Retry queue transitions by outcome.",
				},
				[]string{"outcome"},
			),
			commitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "commit_total",
					Help:      "Commit reconciler results by stage and status.",
				},
				[]string{"stage", "status"},
			),
			channelErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "channel_errors_total",
					Help:      "Chat delivery failures by operation.",
				},
				[]string{"op"},
			),
			messagesReceived: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "messages_received_total",
					Help:      "Inbound chat messages.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnsAppended,
			m.storeDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolDeniedTotal,
			m.completionTotal,
			m.completionDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunTurns,
			m.retryQueueDepth,
			m.retryQueueOutcomes,
			m.commitTotal,
			m.channelErrors,
			m.messagesReceived,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordTurnAppended(role string) {
	getMetrics().turnsAppended.WithLabelValues(role).Inc()
}

func RecordStoreOperation(op string, duration time.Duration) {
	getMetrics().storeDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolDenied(tool string) {
	getMetrics().toolDeniedTotal.WithLabelValues(tool).Inc()
}

func RecordCompletion(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.completionTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAgentRun records one orchestrator run. outcome is one of done,
// queued, failed, denied.
func RecordAgentRun(outcome string, duration time.Duration, turns int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(outcome).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
	if turns > 0 {
		m.agentRunTurns.Observe(float64(turns))
	}
}

func SetRetryQueueDepth(pending int) {
	getMetrics().retryQueueDepth.Set(float64(pending))
}

func RecordRetryQueueOutcome(outcome string) {
	getMetrics().retryQueueOutcomes.WithLabelValues(outcome).Inc()
}

func RecordCommit(stage string, success bool) {
	getMetrics().commitTotal.WithLabelValues(stage, statusLabel(success)).Inc()
}

func RecordChannelError(op string) {
	getMetrics().channelErrors.WithLabelValues(op).Inc()
}

func RecordMessageReceived() {
	getMetrics().messagesReceived.Inc()
}

// Snapshot renders the module's counters and gauges as "name{labels} value"
// lines, sorted by name.
func Snapshot() (string, error) {
	EnsureRegistered()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, namespace+"_") {
			continue
		}
		short := strings.TrimPrefix(name, namespace+"_")
		for _, metric := range mf.GetMetric() {
			value, ok := metricValue(mf.GetType(), metric)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s%s %s", short, formatLabels(metric.GetLabel()), value))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

func metricValue(t dto.MetricType, metric *dto.Metric) (string, bool) {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%.0f", metric.GetCounter().GetValue()), true
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%.0f", metric.GetGauge().GetValue()), true
	case dto.MetricType_HISTOGRAM:
		h := metric.GetHistogram()
		if h.GetSampleCount() == 0 {
			return "", false
		}
		avg := h.GetSampleSum() / float64(h.GetSampleCount())
		return fmt.Sprintf("n=%d avg=%.2f", h.GetSampleCount(), avg), true
	}
	return "", false
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
