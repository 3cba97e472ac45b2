package declarative

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

func init() {
	c := Compiler{}
	module.MustRegisterCompiler(".yaml", 20, c)
	module.MustRegisterCompiler(".yml", 21, c)
	module.MustRegisterCompiler(".json", 30, c)
}

// Document 是声明式路由文件的结构，YAML 与 JSON 共用。
type Document struct {
	// Module 绑定一个静态注册的 Go 模块，文件中声明的动词会覆盖它的同名处理函数。
	Module       string        `json:"module,omitempty"`
	Middleware   []string      `json:"middleware,omitempty"`
	CacheOptions *CacheOptions `json:"cache_options,omitempty"`

	Get     *Response `json:"get,omitempty"`
	Post    *Response `json:"post,omitempty"`
	Put     *Response `json:"put,omitempty"`
	Delete  *Response `json:"delete,omitempty"`
	All     *Response `json:"all,omitempty"`
	Default *Response `json:"default,omitempty"`
}

// Response 描述一个动词的静态响应，或以 module 绑定 Go 模块的处理函数。
type Response struct {
	Module      string            `json:"module,omitempty"`
	Status      int               `json:"status,omitempty"`
	Message     string            `json:"message,omitempty"`
	JSON        any               `json:"json,omitempty"`
	Text        *string           `json:"text,omitempty"`
	HTML        *string           `json:"html,omitempty"`
	Body        any               `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// CacheOptions 对应 route.Module 的缓存策略。
type CacheOptions struct {
	ExpirySeconds    *float64 `json:"expiry_seconds,omitempty"`
	MaxEntries       int      `json:"max_entries,omitempty"`
	CloneValues      *bool    `json:"clone_values,omitempty"`
	UpdateExpiration *bool    `json:"update_expiration,omitempty"`
}

// Compiler 编译 .yaml/.yml/.json 路由文件。
type Compiler struct{}

var linePattern = regexp.MustCompile(`line (\d+)`)

// Compile 实现 module.Compiler。
func (Compiler) Compile(_ context.Context, src module.Source) (*route.Module, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(src.Text, &doc); err != nil {
		out := &module.CompileError{File: src.Path, Message: err.Error(), Err: err}
		if m := linePattern.FindStringSubmatch(err.Error()); m != nil {
			out.Line, _ = strconv.Atoi(m[1])
		}
		return nil, out
	}
	mod, err := Build(src.Path, doc)
	if err != nil {
		return nil, &module.CompileError{File: src.Path, Message: err.Error(), Err: err}
	}
	return mod, nil
}

// Build 把解析后的文档转换为路由模块。
func Build(source string, doc Document) (*route.Module, error) {
	mod := route.Empty(source)
	if doc.Module != "" {
		base, err := module.Instantiate(doc.Module)
		if err != nil {
			return nil, err
		}
		for method, handlers := range base.Handlers {
			mod.Handle(method, handlers...)
		}
		mod.Use(base.Middleware...)
		mod.CacheOptions = base.CacheOptions
	}

	for _, key := range doc.Middleware {
		mw, err := module.Instantiate(key)
		if err != nil {
			return nil, fmt.Errorf("middleware: %w", err)
		}
		mod.Use(mw.Middleware...)
	}

	verbs := []struct {
		method route.Method
		resp   *Response
	}{
		{route.MethodGet, doc.Get},
		{route.MethodPost, doc.Post},
		{route.MethodPut, doc.Put},
		{route.MethodDelete, doc.Delete},
		{route.MethodAll, doc.All},
		{route.MethodDefault, doc.Default},
	}
	for _, v := range verbs {
		if v.resp == nil {
			continue
		}
		handlers, err := v.resp.handlers(v.method)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.method, err)
		}
		mod.Handlers[v.method] = handlers
	}

	if doc.CacheOptions != nil {
		mod.CacheOptions = doc.CacheOptions.options()
	}
	return mod, nil
}

func (r *Response) handlers(method route.Method) ([]route.Handler, error) {
	if r.Module != "" {
		bound, err := module.Instantiate(r.Module)
		if err != nil {
			return nil, err
		}
		handlers, _, ok := bound.Resolve(string(method))
		if !ok {
			return nil, fmt.Errorf("module %s has no handler for %s", r.Module, method)
		}
		return append(append([]route.Handler{}, bound.Middleware...), handlers...), nil
	}

	code := r.Status
	if code == 0 {
		code = 200
	}
	if !response.KnownCode(code) {
		return nil, fmt.Errorf("unknown status code %d", code)
	}
	bodies := 0
	for _, set := range []bool{r.JSON != nil, r.Text != nil, r.HTML != nil, r.Body != nil} {
		if set {
			bodies++
		}
	}
	if bodies > 1 {
		return nil, fmt.Errorf("only one of json, text, html or body may be set")
	}

	fixed := *r
	return []route.Handler{func(*route.Context, route.Next) (any, error) {
		return fixed.envelope(code)
	}}, nil
}

// envelope 每次调用都构造新的响应，正文复制一份，避免请求之间共享可变值。
func (r Response) envelope(code int) (*response.Envelope, error) {
	env := response.Status(code, r.Message)
	switch {
	case r.JSON != nil:
		payload, err := cache.Clone(r.JSON)
		if err != nil {
			return nil, err
		}
		env.JSON(payload)
	case r.Text != nil:
		env.Text(*r.Text)
	case r.HTML != nil:
		env.HTML(*r.HTML)
	case r.Body != nil:
		payload, err := cache.Clone(r.Body)
		if err != nil {
			return nil, err
		}
		env.Send(payload)
	}
	if r.ContentType != "" {
		env.ContentType = r.ContentType
	}
	for k, v := range r.Headers {
		env.WithHeader(k, v)
	}
	return env, nil
}

func (c *CacheOptions) options() *cache.Options {
	opts := &cache.Options{
		MaxEntries:       c.MaxEntries,
		CloneValues:      c.CloneValues,
		UpdateExpiration: c.UpdateExpiration,
	}
	if c.ExpirySeconds != nil {
		opts.Expiry = time.Duration(*c.ExpirySeconds * float64(time.Second))
		if opts.Expiry <= 0 {
			opts.Expiry = -1
		}
	}
	return opts
}
