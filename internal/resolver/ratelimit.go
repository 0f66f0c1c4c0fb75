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
	"sync"

	"golang.org/x/time/rate"
)

// ToolLimitConfig 单工具限流配置
type ToolLimitConfig struct {
	QPS           float64 // 每秒请求数限制，0 表示不限
	MaxConcurrent int     // 最大并发数，0 表示不限
	Burst         int     // 令牌桶容量，0 时取 QPS
}

// ToolRateLimiter 工具维度的限流器：QPS + 并发控制
type ToolRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*toolLimiter
}

type toolLimiter struct {
	rateLimiter *rate.Limiter
	semaphore   chan struct{}
}

// NewToolRateLimiter 按配置创建限流器；configs 中没有的工具不限流
func NewToolRateLimiter(configs map[string]ToolLimitConfig) *ToolRateLimiter {
	t := &ToolRateLimiter{limiters: make(map[string]*toolLimiter)}
	for toolName, cfg := range configs {
		t.addToolLimiter(toolName, cfg)
	}
	return t
}

func (t *ToolRateLimiter) addToolLimiter(toolName string, cfg ToolLimitConfig) {
	if cfg.Burst == 0 {
		cfg.Burst = int(cfg.QPS)
	}
	l := &toolLimiter{}
	if cfg.QPS > 0 {
		l.rateLimiter = rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst)
	}
	if cfg.MaxConcurrent > 0 {
		l.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	t.limiters[toolName] = l
}

// Acquire 阻塞直到获得配额；返回的 release 必须调用。未配置的工具直接放行
func (t *ToolRateLimiter) Acquire(ctx context.Context, toolName string) (func(), error) {
	t.mu.RLock()
	l, ok := t.limiters[toolName]
	t.mu.RUnlock()
	if !ok {
		return func() {}, nil
	}
	if l.rateLimiter != nil {
		if err := l.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.semaphore != nil {
		select {
		case l.semaphore <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return func() { <-l.semaphore }, nil
	}
	return func() {}, nil
}
