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

package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mcp-scheduler/internal/task"
	"mcp-scheduler/internal/tool"
	"mcp-scheduler/pkg/log"
	"mcp-scheduler/pkg/metrics"
)

// 降级策略
const (
	StrategyPriority = "priority" // 按优先级依次尝试同能力工具
	StrategyNone     = "none"     // 不降级，仅尝试主工具
)

// CapabilityOther 未知工具的兜底能力标签
const CapabilityOther = "other"

const preferredBoost = 20

// Config 解析器配置：能力表、优先级、偏好/屏蔽、参数重命名与超时覆盖
type Config struct {
	Strategy       string
	DefaultTimeout time.Duration
	RetryMax       int           // 单个候选的重试次数（不含首次）
	RetryBackoff   time.Duration // 重试前等待
	HistorySize    int

	ToolCapabilities     map[string]string
	CapabilityPriorities map[string]int
	Preferred            []string
	Blocked              []string
	Renames              map[string]map[string]string
	Timeouts             map[string]time.Duration
}

// DefaultConfig 内置能力表与默认策略；配置文件可整体覆盖
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyPriority,
		DefaultTimeout: 30 * time.Second,
		RetryMax:       1,
		RetryBackoff:   time.Second,
		HistorySize:    100,
		ToolCapabilities: map[string]string{
			"echo":          "messaging",
			"noop":          "messaging",
			"http_request":  "web_search",
			"weather_query": "weather",
			"open_app":      "screen_control",
		},
		CapabilityPriorities: map[string]int{
			"screen_control": 50,
			"web_search":     40,
			"messaging":      30,
			"weather":        30,
			CapabilityOther:  10,
		},
		Renames: map[string]map[string]string{
			"echo": {"keyword": "msg"},
		},
		Timeouts: map[string]time.Duration{
			// 启动应用类工具较慢，放宽超时
			"open_app": 120 * time.Second,
		},
	}
}

// capabilityKeywords 按注册描述推断能力时的关键字表，仅作最后兜底
var capabilityKeywords = []struct {
	keyword    string
	capability string
}{
	{"screen", "screen_control"},
	{"browser", "web_search"},
	{"search", "web_search"},
	{"搜索", "web_search"},
	{"message", "messaging"},
	{"消息", "messaging"},
	{"weather", "weather"},
	{"天气", "weather"},
}

// Invoker 执行单次工具调用（由注册表适配实现，测试可注入假实现）
type Invoker interface {
	Invoke(ctx context.Context, service, toolName string, args map[string]any) (any, error)
}

// Resolver 工具优先级/降级解析器：产出候选顺序并带自动降级地执行
type Resolver struct {
	cfg      Config
	registry *tool.Registry
	invoker  Invoker
	history  *History
	logger   *log.Logger
}

// New 创建 Resolver
func New(cfg Config, registry *tool.Registry, invoker Invoker, logger *log.Logger) *Resolver {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPriority
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Resolver{
		cfg:      cfg,
		registry: registry,
		invoker:  invoker,
		history:  NewHistory(cfg.HistorySize),
		logger:   logger,
	}
}

// History 返回降级历史（只读快照）
func (r *Resolver) History() []FallbackRecord {
	return r.history.List()
}

// ResolveCapability 解析工具能力标签；静态表优先，其次按注册描述关键字推断（inferred=true），最后兜底 other
func (r *Resolver) ResolveCapability(toolName string) (capability string, inferred bool) {
	if c, ok := r.cfg.ToolCapabilities[toolName]; ok {
		return c, false
	}
	if reg, ok := r.registry.Get(toolName); ok {
		desc := strings.ToLower(reg.Tool.Description())
		for _, kw := range capabilityKeywords {
			if strings.Contains(desc, kw.keyword) {
				return kw.capability, true
			}
		}
	}
	return CapabilityOther, true
}

// Priority 工具优先级：能力基础分 + 偏好加成；屏蔽工具归零
func (r *Resolver) Priority(toolName string) int {
	if r.isBlocked(toolName) {
		return 0
	}
	capability, _ := r.ResolveCapability(toolName)
	p := r.cfg.CapabilityPriorities[capability]
	if r.isPreferred(toolName) {
		p += preferredBoost
	}
	return p
}

func (r *Resolver) isBlocked(toolName string) bool {
	return matchEitherWay(toolName, r.cfg.Blocked)
}

func (r *Resolver) isPreferred(toolName string) bool {
	return matchEitherWay(toolName, r.cfg.Preferred)
}

// matchEitherWay 子串匹配，双向（表项含工具名或工具名含表项）
func matchEitherWay(toolName string, list []string) bool {
	for _, entry := range list {
		if entry == "" {
			continue
		}
		if strings.Contains(toolName, entry) || strings.Contains(entry, toolName) {
			return true
		}
	}
	return false
}

// FallbackCandidates 同能力候选（不含主工具与屏蔽工具），按优先级降序，注册顺序破平
func (r *Resolver) FallbackCandidates(primary string) []string {
	primaryCap, _ := r.ResolveCapability(primary)
	var candidates []string
	for _, name := range r.registry.Names() {
		if name == primary {
			continue
		}
		if r.isBlocked(name) {
			continue
		}
		if c, _ := r.ResolveCapability(name); c == primaryCap {
			candidates = append(candidates, name)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return r.Priority(candidates[i]) > r.Priority(candidates[j])
	})
	return candidates
}

// timeoutFor 单工具超时（覆盖表优先）
func (r *Resolver) timeoutFor(toolName string) time.Duration {
	if d, ok := r.cfg.Timeouts[toolName]; ok && d > 0 {
		return d
	}
	return r.cfg.DefaultTimeout
}

// renameArgs 按目标工具的重命名表调整参数名；仅对当前候选生效
func (r *Resolver) renameArgs(toolName string, args map[string]any) map[string]any {
	table, ok := r.cfg.Renames[toolName]
	if !ok || len(table) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if to, ok := table[k]; ok {
			out[to] = v
			continue
		}
		out[k] = v
	}
	return out
}

// CallWithFallback 先尝试主工具，失败后按优先级尝试同能力候选。
// Attempts 按尝试过的候选计数（候选内部重试不计）；屏蔽工具仅在被显式指定为主工具时尝试。
func (r *Resolver) CallWithFallback(ctx context.Context, spec task.ToolCallSpec) task.ToolCallResult {
	primary := spec.ToolName
	service := spec.ServiceName
	if service == "" {
		service, _ = r.registry.ServiceFor(primary)
	}

	candidates := []string{primary}
	if r.cfg.Strategy != StrategyNone {
		candidates = append(candidates, r.FallbackCandidates(primary)...)
	}

	var lastErr string
	for i, name := range candidates {
		callService := service
		if i > 0 {
			// 降级候选用其注册服务，不沿用主工具的
			callService, _ = r.registry.ServiceFor(name)
		}
		args := r.renameArgs(name, spec.Args)
		result, err := r.attempt(ctx, callService, name, args)
		if err == nil {
			if i > 0 {
				r.history.Add(FallbackRecord{Primary: primary, Fallback: name, Success: true})
				metrics.FallbackTotal.WithLabelValues(primary, "success").Inc()
				r.logger.Info("工具降级成功", "primary", primary, "fallback", name)
			}
			return task.ToolCallResult{
				Tool:         name,
				Success:      true,
				Result:       result,
				FallbackUsed: i > 0,
				Attempts:     i + 1,
			}
		}
		lastErr = err.Error()
		if i > 0 {
			r.history.Add(FallbackRecord{Primary: primary, Fallback: name, Success: false, Error: lastErr})
			metrics.FallbackTotal.WithLabelValues(primary, "failure").Inc()
		}
		r.logger.Warn("工具调用失败", "tool", name, "error", lastErr)
	}

	return task.ToolCallResult{
		Tool:         primary,
		Success:      false,
		Error:        fmt.Sprintf("所有候选均失败，最后错误: %s", lastErr),
		FallbackUsed: len(candidates) > 1,
		Attempts:     len(candidates),
	}
}

// attempt 单个候选的调用：超时 + 有限重试 + 结果形状判定
func (r *Resolver) attempt(ctx context.Context, service, toolName string, args map[string]any) (any, error) {
	timeout := r.timeoutFor(toolName)
	var lastErr error
	for try := 0; try <= r.cfg.RetryMax; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RetryBackoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := r.invoker.Invoke(callCtx, service, toolName, args)
		cancel()
		metrics.ToolCallDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
		if err == nil {
			if failed, msg := resultIndicatesFailure(result); failed {
				err = fmt.Errorf("%s", msg)
			}
		}
		if err == nil {
			metrics.ToolCallTotal.WithLabelValues(toolName, "success").Inc()
			return result, nil
		}
		metrics.ToolCallTotal.WithLabelValues(toolName, "failure").Inc()
		lastErr = err
	}
	return nil, lastErr
}

// resultIndicatesFailure 结果形状判定：success:false 或 status 非 "ok" 视为失败；
// 两个键都不存在的裸负载视为成功（约定之外的工具响应不强行判失败，但在此单点收口）
func resultIndicatesFailure(v any) (bool, string) {
	m, ok := v.(map[string]any)
	if !ok {
		return false, ""
	}
	if s, exists := m["success"]; exists {
		if b, ok := s.(bool); ok && !b {
			if e, ok := m["error"].(string); ok && e != "" {
				return true, e
			}
			return true, "tool reported failure"
		}
		return false, ""
	}
	if st, exists := m["status"]; exists {
		if s, ok := st.(string); ok && s != "ok" {
			return true, fmt.Sprintf("tool status %q", s)
		}
	}
	return false, ""
}
