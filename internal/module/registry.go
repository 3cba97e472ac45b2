package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/fsroute/internal/route"
)

// Metadata 描述一个静态注册的 Go 路由模块，声明式路由文件通过 module: <key> 绑定。
type Metadata struct {
	Key         string
	Description string
	New         func() *route.Module
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	modules map[string]Metadata
}

func newRegistry() *registry {
	return &registry{modules: make(map[string]Metadata)}
}

// Register 将模块加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合模块 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的模块元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// Instantiate 根据键构建模块实例。
func Instantiate(key string) (*route.Module, error) {
	meta, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("module %s not registered", key)
	}
	mod := meta.New()
	if mod == nil {
		return nil, fmt.Errorf("module %s returned nil", key)
	}
	return mod, nil
}

// List 返回按键排序的模块元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册模块的键值，供调试或诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("module key is required")
	}
	if meta.New == nil {
		return fmt.Errorf("module %s: constructor is required", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("module %s already registered", key)
	}
	r.modules[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.modules[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.modules) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.modules))
	for key := range r.modules {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.modules[key])
	}
	return result
}
