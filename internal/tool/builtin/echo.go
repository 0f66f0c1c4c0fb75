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

package builtin

import "context"

// EchoTool 回显工具：原样返回 msg 参数，用于连通性验证与测试
type EchoTool struct{}

// NewEchoTool 创建 echo 工具
func NewEchoTool() *EchoTool { return &EchoTool{} }

// Name 实现 tool.Tool
func (t *EchoTool) Name() string { return "echo" }

// Description 实现 tool.Tool
func (t *EchoTool) Description() string {
	return "回显输入。传入 msg，原样返回。"
}

// Execute 实现 tool.Tool
func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	msg, _ := args["msg"].(string)
	return map[string]any{"success": true, "msg": msg}, nil
}

// NoopTool 空操作工具：什么都不做，返回 ok
type NoopTool struct{}

// NewNoopTool 创建 noop 工具
func NewNoopTool() *NoopTool { return &NoopTool{} }

func (t *NoopTool) Name() string        { return "noop" }
func (t *NoopTool) Description() string { return "空操作，直接返回 ok。" }

func (t *NoopTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"status": "ok"}, nil
}
