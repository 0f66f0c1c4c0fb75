// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"mcp-scheduler/internal/resolver"
	"mcp-scheduler/internal/scheduler"
	"mcp-scheduler/internal/task"
	"mcp-scheduler/pkg/metrics"
)

// Handler API 处理器：调度、查询、取消与状态面
type Handler struct {
	scheduler *scheduler.Scheduler
	store     *task.Store
	resolver  *resolver.Resolver
	startedAt time.Time
}

// NewHandler 创建处理器；resolver 可为 nil（状态面不含降级历史）
func NewHandler(sched *scheduler.Scheduler, store *task.Store, res *resolver.Resolver) *Handler {
	return &Handler{
		scheduler: sched,
		store:     store,
		resolver:  res,
		startedAt: time.Now(),
	}
}

// scheduleRequest POST /api/schedule 请求体；tool_calls 为原始 map 列表，
// tool_name 之外的键直接作为工具参数
type scheduleRequest struct {
	Query       string           `json:"query"`
	ToolCalls   []map[string]any `json:"tool_calls"`
	SessionID   string           `json:"session_id"`
	RequestID   string           `json:"request_id"`
	CallbackURL string           `json:"callback_url"`
	Mode        string           `json:"mode"` // "sync" 或 "async"（默认）
}

// Schedule 提交任务
// POST /api/schedule
func (h *Handler) Schedule(c context.Context, ctx *app.RequestContext) {
	var req scheduleRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
		})
		return
	}

	specs := make([]task.ToolCallSpec, 0, len(req.ToolCalls))
	for _, raw := range req.ToolCalls {
		spec, err := task.ParseToolCall(raw)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		specs = append(specs, spec)
	}

	outcome, err := h.scheduler.Schedule(c, scheduler.Request{
		Query:       req.Query,
		ToolCalls:   specs,
		SessionID:   req.SessionID,
		RequestID:   req.RequestID,
		CallbackURL: req.CallbackURL,
		Synchronous: req.Mode == "sync",
	})
	if err != nil {
		switch {
		case errors.Is(err, task.ErrInvalidTask):
			ctx.JSON(consts.StatusBadRequest, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		case errors.Is(err, task.ErrSchedulerBusy):
			ctx.JSON(consts.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   "活跃任务已达上限，请稍后重试",
			})
		default:
			hlog.CtxErrorf(c, "schedule failed: %v", err)
			ctx.JSON(consts.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		}
		return
	}
	ctx.JSON(consts.StatusOK, outcome)
}

// GetTask 查询单个任务
// GET /api/tasks/:id
func (h *Handler) GetTask(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	t, err := h.store.Get(id)
	if err != nil {
		ctx.JSON(consts.StatusNotFound, map[string]any{
			"error": "task not found: " + id,
		})
		return
	}
	ctx.JSON(consts.StatusOK, t)
}

// ListTasks 按状态/会话过滤任务列表
// GET /api/tasks?status=&session_id=
func (h *Handler) ListTasks(c context.Context, ctx *app.RequestContext) {
	status := task.Status(ctx.Query("status"))
	sessionID := ctx.Query("session_id")
	tasks := h.store.List(status, sessionID)
	ctx.JSON(consts.StatusOK, map[string]any{
		"total": len(tasks),
		"tasks": tasks,
	})
}

// CancelTask 取消任务；终态任务返回 400
// DELETE /api/tasks/:id
func (h *Handler) CancelTask(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	ok, err := h.store.Cancel(id)
	if err != nil {
		ctx.JSON(consts.StatusNotFound, map[string]any{
			"error": "task not found: " + id,
		})
		return
	}
	if !ok {
		ctx.JSON(consts.StatusBadRequest, map[string]any{
			"error": "任务已处于终态，无法取消",
		})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"success": true,
		"task_id": id,
	})
}

// Status 调度器状态面：计数、队列深度、worker 数、死信数
// GET /api/status
func (h *Handler) Status(c context.Context, ctx *app.RequestContext) {
	stats := h.store.Counts()
	resp := map[string]any{
		"status":         "running",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"tasks":          stats,
		"active":         h.store.ActiveCount(),
		"queue_depth":    h.scheduler.QueueDepth(),
		"workers":        h.scheduler.Workers(),
		"max_active":     h.scheduler.MaxActive(),
		"dead_letters":   len(h.scheduler.DeadLetters()),
	}
	if h.resolver != nil {
		resp["fallback_history"] = len(h.resolver.History())
	}
	ctx.JSON(consts.StatusOK, resp)
}

// FallbackHistory 降级历史（旧→新）
// GET /api/fallback/history
func (h *Handler) FallbackHistory(c context.Context, ctx *app.RequestContext) {
	if h.resolver == nil {
		ctx.JSON(consts.StatusOK, map[string]any{"total": 0, "records": []any{}})
		return
	}
	records := h.resolver.History()
	ctx.JSON(consts.StatusOK, map[string]any{
		"total":   len(records),
		"records": records,
	})
}

// DeadLetters 回调死信列表
// GET /api/callbacks/dead-letters
func (h *Handler) DeadLetters(c context.Context, ctx *app.RequestContext) {
	letters := h.scheduler.DeadLetters()
	if letters == nil {
		letters = []scheduler.DeadLetter{}
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"total":   len(letters),
		"letters": letters,
	})
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics Prometheus 指标导出
// GET /api/metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]any{
			"error": err.Error(),
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
