package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rcaflow_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 工作流指标
var (
	// WorkflowsInitiatedTotal 发起的工作流总数
	WorkflowsInitiatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_workflows_initiated_total",
			Help: "发起的工作流总数",
		},
		[]string{"type", "priority"},
	)

	// WorkflowsCompletedTotal 终结的工作流总数
	WorkflowsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_workflows_completed_total",
			Help: "终结的工作流总数",
		},
		[]string{"status"},
	)

	// WorkflowsActive 当前活跃工作流数量
	WorkflowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rcaflow_workflows_active",
			Help: "当前活跃工作流数量",
		},
	)
)

// 审批指标
var (
	// ApprovalDecisionsTotal 审批决定总数
	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_approval_decisions_total",
			Help: "审批决定总数",
		},
		[]string{"decision"},
	)

	// ApprovalDecisionLatency 从发起到决定的时长（秒）
	ApprovalDecisionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rcaflow_approval_decision_latency_seconds",
			Help:    "从工作流发起到审批决定的时长分布",
			Buckets: []float64{60, 600, 3600, 14400, 43200, 86400, 259200},
		},
	)
)

// 通知指标
var (
	// NotificationsDispatchedTotal 投递的通知总数
	NotificationsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_notifications_dispatched_total",
			Help: "投递的通知总数",
		},
		[]string{"kind", "status"},
	)

	// NotificationsDedupedTotal 被幂等键拦截的重复投递次数
	NotificationsDedupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcaflow_notifications_deduped_total",
			Help: "被幂等键拦截的重复投递次数",
		},
		[]string{"kind"},
	)
)

// 对账轮询指标
var (
	// PollerRunsTotal 轮询执行总数
	PollerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rcaflow_poller_runs_total",
			Help: "对账轮询执行总数",
		},
	)

	// PollerRunDuration 单次轮询耗时（秒）
	PollerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rcaflow_poller_run_duration_seconds",
			Help:    "单次对账轮询耗时分布",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	// PollerWorkflowErrorsTotal 轮询中单工作流处理失败次数
	PollerWorkflowErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rcaflow_poller_workflow_errors_total",
			Help: "对账轮询中单工作流处理失败次数",
		},
	)

	// WorkflowsOverdue 当前超期未终结的工作流数量
	WorkflowsOverdue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rcaflow_workflows_overdue",
			Help: "当前超期未终结的工作流数量",
		},
	)
)
