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

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPTool 实现 http_request：发送 HTTP 请求并返回状态码与响应体
type HTTPTool struct {
	client *resty.Client
}

// NewHTTPTool 创建 http_request 工具
func NewHTTPTool() *HTTPTool {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	return &HTTPTool{client: client}
}

// Name 实现 tool.Tool
func (t *HTTPTool) Name() string { return "http_request" }

// Description 实现 tool.Tool
func (t *HTTPTool) Description() string {
	return "发送 HTTP 请求。传入 method、url，可选 body、headers。"
}

// Execute 实现 tool.Tool
func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	urlStr, _ := args["url"].(string)
	if urlStr == "" {
		return nil, fmt.Errorf("url 不能为空")
	}
	if method == "" {
		method = http.MethodGet
	}

	req := t.client.R().SetContext(ctx)
	if b, ok := args["body"].(string); ok && b != "" {
		req.SetBody(b)
	}
	if h, ok := args["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				req.SetHeader(k, s)
			}
		}
	}

	resp, err := req.Execute(method, urlStr)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     resp.StatusCode() < 400,
		"status_code": resp.StatusCode(),
		"body":        string(resp.Body()),
	}, nil
}
