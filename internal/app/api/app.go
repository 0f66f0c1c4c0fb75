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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"mcp-scheduler/internal/api/http"
	"mcp-scheduler/internal/api/http/middleware"
	"mcp-scheduler/internal/app"
	"mcp-scheduler/internal/resolver"
	"mcp-scheduler/internal/scheduler"
	"mcp-scheduler/internal/task"
	"mcp-scheduler/internal/tool"
	"mcp-scheduler/internal/tool/builtin"
	"mcp-scheduler/pkg/config"
	"mcp-scheduler/pkg/log"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用：装配工具注册表、解析器、调度器与 HTTP 层
type App struct {
	bootstrap    *app.Bootstrap
	store        *task.Store
	scheduler    *scheduler.Scheduler
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	registry := tool.NewRegistry()
	builtin.RegisterBuiltin(registry)

	var limiter *resolver.ToolRateLimiter
	if cfg != nil && len(cfg.RateLimits.Tools) > 0 {
		limits := make(map[string]resolver.ToolLimitConfig, len(cfg.RateLimits.Tools))
		for name, lc := range cfg.RateLimits.Tools {
			limits[name] = resolver.ToolLimitConfig{
				QPS:           lc.QPS,
				MaxConcurrent: lc.MaxConcurrent,
				Burst:         lc.Burst,
			}
		}
		limiter = resolver.NewToolRateLimiter(limits)
		logger.Info("工具限流已启用", "tools", len(limits))
	}

	invoker := resolver.NewRegistryInvoker(registry, limiter)
	res := resolver.New(buildResolverConfig(cfg), registry, invoker, logger)

	store := task.NewStore()

	var notifier *scheduler.CallbackNotifier
	schedCfg := scheduler.Config{}
	if cfg != nil {
		sc := cfg.Scheduler
		schedCfg = scheduler.Config{
			Workers:       sc.Workers,
			MaxActive:     sc.MaxActive,
			SyncWait:      config.ParseDuration(sc.SyncWait, 60*time.Second),
			SyncPoll:      config.ParseDuration(sc.SyncPoll, time.Second),
			IdemCacheSize: sc.IdemSize,
		}
		notifier = scheduler.NewCallbackNotifier(scheduler.NotifierConfig{
			RetryMax:       sc.Callback.RetryMax,
			RetryDelay:     config.ParseDuration(sc.Callback.RetryDelay, 500*time.Millisecond),
			Timeout:        config.ParseDuration(sc.Callback.Timeout, 120*time.Second),
			DeadLetterSize: sc.Callback.DeadLetter,
		}, logger)
	} else {
		notifier = scheduler.NewCallbackNotifier(scheduler.NotifierConfig{}, logger)
	}

	sched, err := scheduler.New(store, res, notifier, schedCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化调度器失败: %w", err)
	}

	handler := http.NewHandler(sched, store, res)
	mw := middleware.NewMiddleware()
	router := http.NewRouter(handler, mw)

	if cfg != nil && cfg.API.Middleware.Auth && cfg.API.Middleware.JWTKey != "" {
		timeout := config.ParseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := config.ParseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth(
			[]byte(cfg.API.Middleware.JWTKey),
			timeout, maxRefresh,
			cfg.API.Middleware.JWTUser, cfg.API.Middleware.JWTPassword,
		)
		if err != nil {
			logger.Warn("JWT 初始化失败，将跳过认证", "error", err)
		} else {
			router.SetJWT(jwtAuth)
			logger.Info("JWT 认证已启用")
		}
	}

	return &App{
		bootstrap: bootstrap,
		store:     store,
		scheduler: sched,
		router:    router,
	}, nil
}

// buildResolverConfig 在内置默认之上应用配置文件覆盖
func buildResolverConfig(cfg *config.Config) resolver.Config {
	rc := resolver.DefaultConfig()
	if cfg == nil {
		return rc
	}
	rcfg := cfg.Resolver
	if rcfg.Strategy != "" {
		rc.Strategy = rcfg.Strategy
	}
	if rcfg.DefaultTimeout != "" {
		rc.DefaultTimeout = config.ParseDuration(rcfg.DefaultTimeout, rc.DefaultTimeout)
	}
	if rcfg.RetryMax > 0 {
		rc.RetryMax = rcfg.RetryMax
	}
	if rcfg.RetryBackoff != "" {
		rc.RetryBackoff = config.ParseDuration(rcfg.RetryBackoff, rc.RetryBackoff)
	}
	if rcfg.HistorySize > 0 {
		rc.HistorySize = rcfg.HistorySize
	}
	for name, capability := range rcfg.ToolCapabilities {
		rc.ToolCapabilities[name] = capability
	}
	for capability, p := range rcfg.CapabilityPriorities {
		rc.CapabilityPriorities[capability] = p
	}
	if len(rcfg.Preferred) > 0 {
		rc.Preferred = rcfg.Preferred
	}
	if len(rcfg.Blocked) > 0 {
		rc.Blocked = rcfg.Blocked
	}
	for name, table := range rcfg.Renames {
		rc.Renames[name] = table
	}
	for name, s := range rcfg.Timeouts {
		if d := config.ParseDuration(s, 0); d > 0 {
			rc.Timeouts[name] = d
		}
	}
	return rc
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("调度服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 日志输出对齐
	levelVar := &slog.LevelVar{}
	if cfg != nil {
		levelVar.Set(log.ParseLevel(cfg.Log.Level))
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(a.bootstrap.Logger.Output()),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg != nil && cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "mcp-scheduler"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	a.scheduler.Start(context.Background())
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	a.scheduler.Stop()
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
