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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
	JWTUser       string `mapstructure:"jwt_user"`
	JWTPassword   string `mapstructure:"jwt_password"`
}

// SchedulerConfig 调度器配置：工作协程数、活跃任务上限、同步等待与回调策略
type SchedulerConfig struct {
	Workers   int            `mapstructure:"workers"`    // 工作协程数，<=0 使用默认 10
	MaxActive int            `mapstructure:"max_active"` // 活跃任务上限（准入控制），<=0 使用默认 50
	SyncWait  string         `mapstructure:"sync_wait"`  // 同步模式最长等待，如 "60s"
	SyncPoll  string         `mapstructure:"sync_poll"`  // 同步模式轮询间隔，如 "1s"
	IdemSize  int            `mapstructure:"idempotency_cache_size"` // 幂等缓存容量，<=0 使用默认 2048
	Callback  CallbackConfig `mapstructure:"callback"`
}

// CallbackConfig 结果回调配置
type CallbackConfig struct {
	RetryMax   int    `mapstructure:"retry_max"`   // 回调最大尝试次数，<=0 使用默认 3
	RetryDelay string `mapstructure:"retry_delay"` // 两次尝试间隔，如 "500ms"
	Timeout    string `mapstructure:"timeout"`     // 单次尝试超时，如 "120s"
	DeadLetter int    `mapstructure:"dead_letter_size"` // 死信记录容量，<=0 使用默认 100
}

// ResolverConfig 工具优先级/降级解析配置
type ResolverConfig struct {
	// Strategy 降级策略：priority（按优先级尝试同能力工具）| none（不降级）
	Strategy       string `mapstructure:"strategy"`
	DefaultTimeout string `mapstructure:"default_timeout"` // 单次工具调用默认超时
	RetryMax       int    `mapstructure:"retry_max"`       // 单个候选的重试次数（不含首次）
	RetryBackoff   string `mapstructure:"retry_backoff"`   // 重试前等待，如 "1s"
	HistorySize    int    `mapstructure:"history_size"`    // 降级历史容量，<=0 使用默认 100

	// ToolCapabilities 工具名 -> 能力标签（如 screen_control、web_search）
	ToolCapabilities map[string]string `mapstructure:"tool_capabilities"`
	// CapabilityPriorities 能力标签 -> 基础优先级
	CapabilityPriorities map[string]int `mapstructure:"capability_priorities"`
	// Preferred 偏好工具列表（子串匹配，优先级 +20）
	Preferred []string `mapstructure:"preferred"`
	// Blocked 屏蔽工具列表（子串匹配，优先级归零，永不作为降级目标）
	Blocked []string `mapstructure:"blocked"`
	// Renames 工具参数重命名表：工具名 -> {调用方参数名: 工具期望参数名}
	Renames map[string]map[string]string `mapstructure:"renames"`
	// Timeouts 单工具超时覆盖：工具名 -> 时长字符串（如 open_app: "120s"）
	Timeouts map[string]string `mapstructure:"timeouts"`
}

// RateLimitsConfig 限流配置（按工具）
type RateLimitsConfig struct {
	Tools map[string]ToolRateLimitConfig `mapstructure:"tools"`
}

// ToolRateLimitConfig 单个工具的限流配置
type ToolRateLimitConfig struct {
	QPS           float64 `mapstructure:"qps"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	Burst         int     `mapstructure:"burst"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中的 ${ENV} 形式环境变量（目前仅 JWT Key）
func replaceEnvVars(config *Config) {
	if strings.HasPrefix(config.API.Middleware.JWTKey, "$") {
		envVar := strings.TrimPrefix(strings.TrimSuffix(config.API.Middleware.JWTKey, "}"), "${")
		if val := os.Getenv(envVar); val != "" {
			config.API.Middleware.JWTKey = val
		}
	}
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
