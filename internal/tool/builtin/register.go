package builtin

import "mcp-scheduler/internal/tool"

// RegisterBuiltin 注册内置工具，服务启动即可端到端运行
func RegisterBuiltin(reg *tool.Registry) {
	reg.Register("system", NewEchoTool())
	reg.Register("system", NewNoopTool())
	reg.Register("network", NewHTTPTool())
	reg.Register("weather", NewWeatherTool())
}
