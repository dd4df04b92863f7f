package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a driver for the binary at path.
type Factory func(path string, runner Runner) Driver

// Registry 管理工具驱动的注册和查找。
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry 创建一个新的驱动注册表。
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry 返回包含内置驱动的注册表。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	Builtin(r)
	return r
}

// Register 注册驱动工厂。
// 如果该名称已注册，则返回错误。
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("驱动名称不能为空")
	}
	if factory == nil {
		return fmt.Errorf("不能注册空驱动工厂")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("驱动已注册: %s", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister 注册驱动工厂，如果出错则 panic。
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// New 按名称创建驱动，如果不存在则返回错误。
func (r *Registry) New(name, path string, runner Runner) (Driver, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, newError(ErrCodeUnknownDriver, name, "no driver registered", nil)
	}
	return factory(path, runner), nil
}

// Has 检查驱动是否已注册。
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names 返回所有已注册的驱动名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
