package route

import (
	"strings"

	"github.com/any-hub/fsroute/internal/cache"
)

// Method 是模块导出的小写动词键。
type Method string

const (
	MethodGet     Method = "get"
	MethodPost    Method = "post"
	MethodPut     Method = "put"
	MethodDelete  Method = "delete"
	MethodAll     Method = "all"
	MethodDefault Method = "default"
)

// Verbs 是具名动词的匹配优先级，之后依次回落到 all 与 default。
var Verbs = []Method{MethodGet, MethodPost, MethodPut, MethodDelete}

// ParseMethod 将导出键或 HTTP 方法名转换为 Method，未知值返回 false。
func ParseMethod(name string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodAll, MethodDefault:
		return m, true
	}
	return "", false
}

// Next 继续执行链路中的下一步。
type Next func()

// Handler 是中间件与动词处理函数的统一签名。返回值若不是 *response.Envelope
// 或 *response.CacheHit，会被 response.Send 包装。
type Handler func(c *Context, next Next) (any, error)

// Module 是单个路由文件导出的处理函数集合。
type Module struct {
	Handlers     map[Method][]Handler
	Middleware   []Handler
	CacheOptions *cache.Options
	Source       string
	// Release 释放编译期持有的资源（如脚本虚拟机），模块被替换或移除时调用，须可重复调用。
	Release func()
}

// Close 调用 Release；nil 模块与未设置 Release 的模块直接返回。
func (m *Module) Close() {
	if m != nil && m.Release != nil {
		m.Release()
	}
}

// Empty 返回没有任何处理函数的模块。
func Empty(source string) *Module {
	return &Module{Handlers: map[Method][]Handler{}, Source: source}
}

// Handle 为动词追加处理函数。
func (m *Module) Handle(method Method, handlers ...Handler) *Module {
	if m.Handlers == nil {
		m.Handlers = make(map[Method][]Handler)
	}
	m.Handlers[method] = append(m.Handlers[method], handlers...)
	return m
}

// Use 追加中间件。
func (m *Module) Use(handlers ...Handler) *Module {
	m.Middleware = append(m.Middleware, handlers...)
	return m
}

// Methods 按优先级返回已声明的动词。
func (m *Module) Methods() []Method {
	var out []Method
	for _, method := range append(append([]Method{}, Verbs...), MethodAll, MethodDefault) {
		if len(m.Handlers[method]) > 0 {
			out = append(out, method)
		}
	}
	return out
}

// Resolve 按 get/post/put/delete → all → default 的顺序选择处理函数。
func (m *Module) Resolve(method string) ([]Handler, Method, bool) {
	if m == nil {
		return nil, "", false
	}
	want := Method(strings.ToLower(method))
	for _, verb := range Verbs {
		if verb == want && len(m.Handlers[verb]) > 0 {
			return m.Handlers[verb], verb, true
		}
	}
	for _, fallback := range []Method{MethodAll, MethodDefault} {
		if len(m.Handlers[fallback]) > 0 {
			return m.Handlers[fallback], fallback, true
		}
	}
	return nil, "", false
}
