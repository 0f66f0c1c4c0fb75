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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/hertz-contrib/jwt"

	"mcp-scheduler/internal/api/http/middleware"
)

// Router HTTP 路由器（Hertz）
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwtAuth    *jwt.HertzJWTMiddleware
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: mw,
	}
}

// SetJWT 启用 JWT 认证（健康检查与指标不受保护）
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = auth
}

// Build 构建 Hertz 服务并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	serverOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(serverOpts...)

	api := h.Group("/api", r.middleware.CORS())

	api.GET("/health", r.handler.HealthCheck)
	api.GET("/metrics", r.handler.Metrics)

	var protected *route.RouterGroup
	if r.jwtAuth != nil {
		api.POST("/login", r.jwtAuth.LoginHandler)
		protected = api.Group("", r.jwtAuth.MiddlewareFunc())
	} else {
		protected = api.Group("")
	}

	protected.POST("/schedule", r.handler.Schedule)
	protected.GET("/status", r.handler.Status)
	protected.GET("/tasks", r.handler.ListTasks)
	protected.GET("/tasks/:id", r.handler.GetTask)
	protected.DELETE("/tasks/:id", r.handler.CancelTask)
	protected.GET("/fallback/history", r.handler.FallbackHistory)
	protected.GET("/callbacks/dead-letters", r.handler.DeadLetters)

	return h
}
