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

package task

import (
	"errors"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 是否为终态（终态不可再迁移）
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrInvalidTask query 与 tool_calls 同时为空
	ErrInvalidTask = errors.New("task: query and tool_calls are both empty")
	// ErrTaskNotFound 活跃与已完成存储中均无此任务
	ErrTaskNotFound = errors.New("task: not found")
	// ErrSchedulerBusy 活跃任务数达到上限（准入控制）
	ErrSchedulerBusy = errors.New("task: active task limit reached")
)

// 保留键：从调用方传入的 tool call 原始 map 中摘出，不作为工具参数转发
const (
	keyServiceName = "service_name"
	keyToolName    = "tool_name"
	keyAgentType   = "agent_type"
)

// ToolCallSpec 单次工具调用请求：服务名可空（执行前按工具名反查），其余键值原样作为参数转发
type ToolCallSpec struct {
	ServiceName string         `json:"service_name,omitempty"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args,omitempty"`
}

// ParseToolCall 从原始 map 解析 ToolCallSpec；保留键之外的键全部进入 Args
func ParseToolCall(raw map[string]any) (ToolCallSpec, error) {
	var spec ToolCallSpec
	if v, ok := raw[keyServiceName].(string); ok {
		spec.ServiceName = v
	}
	if v, ok := raw[keyToolName].(string); ok {
		spec.ToolName = v
	}
	if spec.ToolName == "" {
		return spec, errors.New("task: tool_name is required")
	}
	args := make(map[string]any)
	for k, v := range raw {
		switch k {
		case keyServiceName, keyToolName, keyAgentType:
			continue
		}
		args[k] = v
	}
	spec.Args = args
	return spec, nil
}

// ToolCallResult 单次工具调用结果；Tool 为实际执行的工具（降级时与请求不同）
type ToolCallResult struct {
	Tool         string `json:"tool"`
	Success      bool   `json:"success"`
	Result       any    `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
	Attempts     int    `json:"attempts"`
}

// Task 一次调度请求：查询文本 + 有序工具调用列表 + 跟踪元数据。
// 可变字段仅由持有它的 worker 修改；外部只读快照。
type Task struct {
	ID          string         `json:"id"`
	Query       string         `json:"query,omitempty"`
	ToolCalls   []ToolCallSpec `json:"tool_calls"`
	SessionID   string         `json:"session_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// NewTask 构造一个待入队任务；query 与 toolCalls 同时为空时返回 ErrInvalidTask
func NewTask(query string, toolCalls []ToolCallSpec, sessionID, requestID, callbackURL string) (*Task, error) {
	if query == "" && len(toolCalls) == 0 {
		return nil, ErrInvalidTask
	}
	return &Task{
		Query:       query,
		ToolCalls:   toolCalls,
		SessionID:   sessionID,
		RequestID:   requestID,
		CallbackURL: callbackURL,
		Status:      StatusQueued,
	}, nil
}

// toolNames 有序工具名列表，用于重复抑制比较
func (t *Task) toolNames() []string {
	names := make([]string, len(t.ToolCalls))
	for i, c := range t.ToolCalls {
		names[i] = c.ToolName
	}
	return names
}

// clone 深拷贝快照（ToolCalls/Args 拷贝，Result 共享只读）
func (t *Task) clone() *Task {
	cp := *t
	cp.ToolCalls = make([]ToolCallSpec, len(t.ToolCalls))
	for i, c := range t.ToolCalls {
		cc := c
		if c.Args != nil {
			cc.Args = make(map[string]any, len(c.Args))
			for k, v := range c.Args {
				cc.Args[k] = v
			}
		}
		cp.ToolCalls[i] = cc
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func sameToolNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
