package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TaskTotal, TaskDuration, QueueDepth, ActiveTasks,
		ToolCallDuration, ToolCallTotal, FallbackTotal,
		CallbackDeliveryTotal, CallbackAttemptTotal,
	)
}

// TaskTotal 任务总数（按终态）
var TaskTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpsched_task_total",
		Help: "任务总数（按终态）",
	},
	[]string{"status"}, // completed | failed | cancelled
)

// TaskDuration 任务执行耗时（秒）
var TaskDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mcpsched_task_duration_seconds",
		Help:    "任务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// QueueDepth 当前排队任务数
var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "mcpsched_queue_depth",
		Help: "当前排队任务数",
	},
)

// ActiveTasks 当前活跃（非终态）任务数
var ActiveTasks = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "mcpsched_active_tasks",
		Help: "当前活跃任务数",
	},
)

// ToolCallDuration 工具调用耗时（秒）
var ToolCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mcpsched_tool_call_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolCallTotal 工具调用总数（按结果）
var ToolCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpsched_tool_call_total",
		Help: "工具调用总数（按结果）",
	},
	[]string{"tool", "outcome"}, // success | failure
)

// FallbackTotal 降级调用总数（主工具 -> 降级工具）
var FallbackTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpsched_fallback_total",
		Help: "降级调用总数",
	},
	[]string{"primary", "outcome"}, // success | failure
)

// CallbackDeliveryTotal 回调投递总数（按最终结果）
var CallbackDeliveryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpsched_callback_delivery_total",
		Help: "回调投递总数（按最终结果）",
	},
	[]string{"outcome"}, // delivered | dead_letter
)

// CallbackAttemptTotal 回调尝试总数（含重试）
var CallbackAttemptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "mcpsched_callback_attempt_total",
		Help: "回调尝试总数（含重试）",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
