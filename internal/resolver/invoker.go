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

	"mcp-scheduler/internal/tool"
	errs "mcp-scheduler/pkg/errors"
)

// RegistryInvoker 基于注册表的 Invoker 实现；limiter 可为 nil 表示不限流
type RegistryInvoker struct {
	registry *tool.Registry
	limiter  *ToolRateLimiter
}

// NewRegistryInvoker 创建注册表适配的 Invoker
func NewRegistryInvoker(registry *tool.Registry, limiter *ToolRateLimiter) *RegistryInvoker {
	return &RegistryInvoker{registry: registry, limiter: limiter}
}

// Invoke 实现 Invoker：按工具名查注册表并执行；service 非空时校验归属
func (i *RegistryInvoker) Invoke(ctx context.Context, service, toolName string, args map[string]any) (any, error) {
	reg, ok := i.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("未注册的工具: %s", toolName)
	}
	if service != "" && reg.Service != service {
		return nil, fmt.Errorf("工具 %s 属于服务 %s，而非 %s", toolName, reg.Service, service)
	}
	if i.limiter != nil {
		release, err := i.limiter.Acquire(ctx, toolName)
		if err != nil {
			return nil, errs.Wrapf(err, "工具 %s 限流等待失败", toolName)
		}
		defer release()
	}
	result, err := reg.Tool.Execute(ctx, args)
	if err != nil {
		return nil, errs.Wrapf(err, "工具 %s 执行失败", toolName)
	}
	return result, nil
}
