// Copyright 2026 fanjia1024
// Tests for configuration loading

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
api:
  port: 9090
  middleware:
    auth: true
    jwt_key: "${TEST_JWT_SECRET}"
    jwt_timeout: "2h"
    jwt_user: "ops"
    jwt_password: "secret"
scheduler:
  workers: 4
  max_active: 20
  sync_wait: "30s"
  sync_poll: "500ms"
  idempotency_cache_size: 128
  callback:
    retry_max: 5
    retry_delay: "200ms"
    timeout: "60s"
    dead_letter_size: 10
resolver:
  strategy: "priority"
  default_timeout: "15s"
  tool_capabilities:
    my_tool: "web_search"
  capability_priorities:
    web_search: 45
  preferred:
    - my_tool
  blocked:
    - bad_tool
  renames:
    echo:
      keyword: "msg"
  timeouts:
    open_app: "90s"
rate_limits:
  tools:
    http_request:
      qps: 2
      max_concurrent: 3
log:
  level: "debug"
  format: "json"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.True(t, cfg.API.Middleware.Auth)
	// ${ENV} 形式替换
	assert.Equal(t, "from-env", cfg.API.Middleware.JWTKey)
	assert.Equal(t, "ops", cfg.API.Middleware.JWTUser)

	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 20, cfg.Scheduler.MaxActive)
	assert.Equal(t, 128, cfg.Scheduler.IdemSize)
	assert.Equal(t, 5, cfg.Scheduler.Callback.RetryMax)
	assert.Equal(t, 10, cfg.Scheduler.Callback.DeadLetter)

	assert.Equal(t, "priority", cfg.Resolver.Strategy)
	assert.Equal(t, "web_search", cfg.Resolver.ToolCapabilities["my_tool"])
	assert.Equal(t, 45, cfg.Resolver.CapabilityPriorities["web_search"])
	assert.Equal(t, []string{"my_tool"}, cfg.Resolver.Preferred)
	assert.Equal(t, []string{"bad_tool"}, cfg.Resolver.Blocked)
	assert.Equal(t, "msg", cfg.Resolver.Renames["echo"]["keyword"])
	assert.Equal(t, "90s", cfg.Resolver.Timeouts["open_app"])

	assert.Equal(t, 2.0, cfg.RateLimits.Tools["http_request"].QPS)
	assert.Equal(t, 3, cfg.RateLimits.Tools["http_request"].MaxConcurrent)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Second))
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("not-a-duration", time.Second))
}
