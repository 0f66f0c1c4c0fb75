package tool

import (
	"sync"
)

// Registration 注册项：工具及其所属服务名
type Registration struct {
	Service string
	Tool    Tool
}

// Registry 工具注册表：按工具名注册与发现，保留注册顺序供降级候选的稳定排序
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Registration
	order  []string // 注册顺序，同优先级候选的平局基准
}

// NewRegistry 创建新 Registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Registration)}
}

// Register 以服务名注册工具；重名时覆盖，注册顺序保留首次位置
func (r *Registry) Register(service string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = Registration{Service: service, Tool: t}
}

// Get 按工具名获取注册项
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// ServiceFor 按工具名反查服务名（ToolCallSpec.ServiceName 为空时使用）
func (r *Registry) ServiceFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return reg.Service, true
}

// Names 按注册顺序返回全部工具名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
