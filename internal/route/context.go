package route

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/memo"
	"github.com/any-hub/fsroute/internal/response"
)

// DefaultMemoTTL 是 SetCache 未指定 TTL 时的记忆时长。
const DefaultMemoTTL = 15 * time.Second

// Services 是 Context 回调调度器的能力集合，由 dispatch 包实现。
type Services interface {
	Fetch(ctx context.Context, path string, req Request) *response.Envelope
	Memo() memo.Store
}

// PendingMemo 记录 CacheControl 未命中时需要在链路结束后写入的记忆。
type PendingMemo struct {
	Key string
	TTL time.Duration
}

// Context 是单次调度的请求上下文，不在请求之间共享。
type Context struct {
	Method    string
	Path      string
	Route     string
	Headers   map[string]string
	Query     map[string]string
	Params    map[string]string
	Body      any
	Files     []File
	RequestID string

	ctx      context.Context
	services Services
	cache    *cache.Cache[any]
	logger   *logrus.Entry
	pending  *PendingMemo
	headers  map[string]string
}

// NewContext 由调度器调用，绑定父 context、服务与路由级缓存。
func NewContext(parent context.Context, services Services, routeCache *cache.Cache[any], logger *logrus.Entry) *Context {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Context{
		ctx:      parent,
		services: services,
		cache:    routeCache,
		logger:   logger,
		Headers:  map[string]string{},
		Query:    map[string]string{},
		Params:   map[string]string{},
	}
}

// Context 返回请求级 context.Context，处理函数在阻塞操作上应遵循其取消信号。
func (c *Context) Context() context.Context { return c.ctx }

// Logger 返回带路由字段的日志入口。
func (c *Context) Logger() *logrus.Entry { return c.logger }

// Cache 返回当前路由的私有缓存，路由未配置缓存时为 nil。
func (c *Context) Cache() *cache.Cache[any] { return c.cache }

// Param 返回路径参数。
func (c *Context) Param(name string) string { return c.Params[name] }

// QueryValue 返回合并后的查询参数。
func (c *Context) QueryValue(name string) string { return c.Query[name] }

// Header 以不区分大小写的方式读取请求头。
func (c *Context) Header(name string) string { return c.Headers[strings.ToLower(name)] }

// OriginalPath 返回请求的原始路径（未去掉基础路径与参数替换前）。
func (c *Context) OriginalPath() string { return c.Path }

// SetHeader 为最终响应追加响应头。
func (c *Context) SetHeader(key, value string) {
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.headers[key] = value
}

// ResponseHeaders 返回处理过程中追加的响应头。
func (c *Context) ResponseHeaders() map[string]string { return c.headers }

// Fetch 在当前请求上下文中调度另一个路由；相对路径基于当前路由解析，
// 当前请求的查询参数与请求头作为最低优先级的默认值。
func (c *Context) Fetch(path string, req Request) *response.Envelope {
	if req.Ambient == nil {
		req.Ambient = &Ambient{
			From:      c.Path,
			Headers:   c.Headers,
			Query:     c.Query,
			RequestID: c.RequestID,
		}
	}
	return c.services.Fetch(c.ctx, path, req)
}

func (c *Context) memoKey(id string) string {
	return c.Route + "_" + id
}

// CacheControl 查询 <路由>_<id> 下的记忆响应：命中时返回 CacheHit，处理函数应直接返回它；
// 未命中时登记待写入记忆，链路以 2xx 结束后按 ttl 保存最终响应。
func (c *Context) CacheControl(ttl time.Duration, id string) (*response.CacheHit, bool) {
	key := c.memoKey(id)
	if store := c.memo(); store != nil {
		env, ok, err := store.Get(c.ctx, key)
		if err != nil {
			c.logger.WithField("memo_key", key).Warn(err.Error())
		}
		if ok && err == nil {
			return &response.CacheHit{Key: key, Envelope: env}, true
		}
	}
	c.pending = &PendingMemo{Key: key, TTL: ttl}
	return nil, false
}

// PendingMemo 返回 CacheControl 登记的待写入记忆。
func (c *Context) PendingMemo() (PendingMemo, bool) {
	if c.pending == nil {
		return PendingMemo{}, false
	}
	return *c.pending, true
}

// GetCached 返回 <路由>_<id> 下记忆响应的正文，与 CacheControl 共用同一键空间。
func (c *Context) GetCached(id string) (any, bool) {
	store := c.memo()
	if store == nil || id == "" {
		return nil, false
	}
	env, ok, err := store.Get(c.ctx, c.memoKey(id))
	if err != nil || !ok {
		return nil, false
	}
	return env.Payload, true
}

// SetCache 以 <路由>_<id> 记忆任意值；空 id 与已是响应的值会被忽略。
func (c *Context) SetCache(id string, value any, ttl ...time.Duration) error {
	store := c.memo()
	if store == nil || id == "" {
		return nil
	}
	switch value.(type) {
	case *response.Envelope, *response.CacheHit:
		return nil
	}
	life := DefaultMemoTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		life = ttl[0]
	}
	return store.Put(c.ctx, c.memoKey(id), response.Send(value), life)
}

// HasCache 判断 id 是否存在记忆。
func (c *Context) HasCache(id string) bool {
	_, ok := c.GetCached(id)
	return ok
}

func (c *Context) memo() memo.Store {
	if c.services == nil {
		return nil
	}
	return c.services.Memo()
}

// RequireAccess 校验 Basic 认证，users 为 用户名 → 密码。通过时返回 nil，
// 否则返回携带 WWW-Authenticate 的 401 响应，处理函数应直接返回它。
func (c *Context) RequireAccess(users map[string]string) *response.Envelope {
	if user, pass, ok := parseBasicAuth(c.Header("authorization")); ok {
		if expected, exists := users[user]; exists &&
			subtle.ConstantTimeCompare([]byte(expected), []byte(pass)) == 1 {
			return nil
		}
	}
	return response.Error(401, "Unauthorized").
		WithHeader("WWW-Authenticate", `Basic realm="fsroute", charset="UTF-8"`)
}

func parseBasicAuth(header string) (string, string, bool) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	return user, pass, ok
}

// CORS 按路由级白名单校验 Origin 请求头；通过时写入 Access-Control-* 响应头并返回 nil，
// 否则返回 403 "Origin not allowed"。没有 Origin 头的请求直接放行。
func (c *Context) CORS(origins []string, expose []string) *response.Envelope {
	origin := c.Header("origin")
	if origin == "" {
		return nil
	}
	allowed := false
	for _, o := range origins {
		if o == "*" || strings.EqualFold(strings.TrimSuffix(o, "/"), strings.TrimSuffix(origin, "/")) {
			allowed = true
			break
		}
	}
	if !allowed {
		return response.Error(403, "Origin not allowed")
	}
	c.SetHeader("Access-Control-Allow-Origin", origin)
	c.SetHeader("Vary", "Origin")
	if len(expose) > 0 {
		c.SetHeader("Access-Control-Expose-Headers", strings.Join(expose, ", "))
	}
	return nil
}
