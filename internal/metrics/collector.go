package metrics

import (
	"strconv"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 workflow.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionsInFlight prometheus.Gauge

	// 节点指标
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	nodeAttempts        *prometheus.HistogramVec
	nodeRetriesTotal    *prometheus.CounterVec

	// Agent 指标
	agentRunsTotal   *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec

	logger *zap.Logger
}

var _ workflow.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 工作流指标
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of finished workflow executions",
		},
		[]string{"status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"status"},
	)

	c.executionsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_executions_in_flight",
			Help:      "Number of workflow executions currently running",
		},
	)

	// 节点指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_node_executions_total",
			Help:      "Total number of node executions by terminal status",
		},
		[]string{"node_type", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Node execution duration in seconds, retries included",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	c.nodeAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_attempts",
			Help:      "Number of attempts per node execution",
			Buckets:   []float64{1, 2, 3, 5, 10},
		},
		[]string{"node_type"},
	)

	c.nodeRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_node_retries_total",
			Help:      "Total number of node retries after transient failures",
		},
		[]string{"node_type"},
	)

	// Agent 指标
	c.agentRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Total number of agentic runs",
		},
		[]string{"provider", "status"},
	)

	c.agentRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agentic run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 工作流指标记录（workflow.Observer）
// =============================================================================

// ExecutionStarted implements workflow.Observer.
func (c *Collector) ExecutionStarted() {
	c.executionsInFlight.Inc()
}

// ExecutionFinished implements workflow.Observer.
func (c *Collector) ExecutionFinished(status workflow.ExecutionStatus, d time.Duration) {
	c.executionsInFlight.Dec()
	c.executionsTotal.WithLabelValues(string(status)).Inc()
	c.executionDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// NodeFinished implements workflow.Observer.
func (c *Collector) NodeFinished(nodeType string, status workflow.LogStatus, attempts int, d time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(nodeType, string(status)).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
	if attempts > 0 {
		c.nodeAttempts.WithLabelValues(nodeType).Observe(float64(attempts))
	}
}

// NodeRetried implements workflow.Observer.
func (c *Collector) NodeRetried(nodeType string) {
	c.nodeRetriesTotal.WithLabelValues(nodeType).Inc()
}

// =============================================================================
// 🤖 Agent 指标记录
// =============================================================================

// RecordAgentRun 记录一次 agentic 运行
func (c *Collector) RecordAgentRun(provider, status string, duration time.Duration) {
	c.agentRunsTotal.WithLabelValues(provider, status).Inc()
	c.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类为 2xx/3xx/4xx/5xx
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
