package builtin

import "context"

// WeatherTool 天气查询占位实现：返回固定结构，真实接入由外部服务提供
type WeatherTool struct{}

// NewWeatherTool 创建 weather_query 工具
func NewWeatherTool() *WeatherTool { return &WeatherTool{} }

func (t *WeatherTool) Name() string { return "weather_query" }

func (t *WeatherTool) Description() string {
	return "查询城市天气。传入 city，返回天气摘要。"
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	city, _ := args["city"].(string)
	if city == "" {
		city = "Beijing"
	}
	return map[string]any{
		"success": true,
		"city":    city,
		"summary": "晴，25°C",
	}, nil
}
