// Package fsroute 是文件系统路由注册表的程序化入口：监听目录、编译路由文件，
// 并在不启动 HTTP 服务的情况下直接调度请求。
package fsroute

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/dispatch"
	"github.com/any-hub/fsroute/internal/memo"
	"github.com/any-hub/fsroute/internal/module"
	_ "github.com/any-hub/fsroute/internal/module/builtin"
	_ "github.com/any-hub/fsroute/internal/module/declarative"
	_ "github.com/any-hub/fsroute/internal/module/luart"
	"github.com/any-hub/fsroute/internal/registry"
	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

type (
	// Request 是一次调度的输入。
	Request = route.Request
	// Envelope 是调度结果。
	Envelope = response.Envelope
	// Route 是路由表中的一条记录。
	Route = registry.Entry
	// Event 是路由表变化通知。
	Event = registry.Event
)

type options struct {
	logger        *logrus.Logger
	moduleRoot    string
	basePath      string
	indexNames    []string
	readyDebounce time.Duration
	pollInterval  time.Duration
	cacheDefaults cache.Options
	memo          memo.Store
	memoTTL       time.Duration
	metrics       prometheus.Registerer
	tracer        trace.TracerProvider
}

// Option 调整 Start 的行为。
type Option func(*options)

// WithLogger 指定日志输出，默认使用 logrus 标准 logger。
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithModuleRoot 指定 require 可访问的受管目录，必须包含路由目录。默认与路由目录相同。
func WithModuleRoot(dir string) Option {
	return func(o *options) { o.moduleRoot = dir }
}

// WithBasePath 指定挂载前缀，调度时先去掉前缀再匹配。
func WithBasePath(prefix string) Option {
	return func(o *options) { o.basePath = prefix }
}

// WithIndexNames 指定路由入口文件名（不含扩展名）。
func WithIndexNames(names ...string) Option {
	return func(o *options) { o.indexNames = names }
}

// WithReadyDebounce 指定就绪判定的静默时长。
func WithReadyDebounce(d time.Duration) Option {
	return func(o *options) { o.readyDebounce = d }
}

// WithPollInterval 指定依赖文件的轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithCacheDefaults 指定路由私有缓存的默认策略。
func WithCacheDefaults(opts cache.Options) Option {
	return func(o *options) { o.cacheDefaults = opts }
}

// WithMemo 指定 CacheControl 使用的记忆存储，调用方负责关闭。
func WithMemo(store memo.Store, ttl time.Duration) Option {
	return func(o *options) {
		o.memo = store
		o.memoTTL = ttl
	}
}

// WithMetrics 注册调度指标。
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = reg }
}

// WithTracerProvider 指定 span 来源，默认使用全局 provider。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// Handle 持有一个运行中的路由注册表及其调度器。
type Handle struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	loader     *module.Loader
}

// Start 扫描 root 并开始监听变化。返回时初始扫描可能尚未稳定，需要时调用 Ready。
func Start(ctx context.Context, root string, opts ...Option) (*Handle, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	moduleRoot := o.moduleRoot
	if moduleRoot == "" {
		moduleRoot = root
	}

	loader, err := module.NewLoader(module.LoaderOptions{
		Root:         moduleRoot,
		PollInterval: o.pollInterval,
		Logger:       o.logger,
	})
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Options{
		Root:          root,
		Loader:        loader,
		Logger:        o.logger,
		IndexNames:    o.indexNames,
		ReadyDebounce: o.readyDebounce,
		CacheDefaults: o.cacheDefaults,
	})
	if err != nil {
		_ = loader.Close()
		return nil, err
	}

	d, err := dispatch.New(dispatch.Options{
		Registry:       reg,
		Memo:           o.memo,
		Logger:         o.logger,
		BasePath:       o.basePath,
		Metrics:        o.metrics,
		TracerProvider: o.tracer,
		MemoTTL:        o.memoTTL,
	})
	if err != nil {
		_ = reg.Close()
		_ = loader.Close()
		return nil, err
	}

	h := &Handle{registry: reg, dispatcher: d, loader: loader}
	if err := reg.Start(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// Ready 阻塞到初始扫描稳定或 ctx 结束。callbacks 在就绪时各调用一次，
// 已就绪时立即调用。
func (h *Handle) Ready(ctx context.Context, callbacks ...func()) error {
	for _, fn := range callbacks {
		if fn != nil {
			h.registry.OnReady(fn)
		}
	}
	return h.registry.Ready(ctx)
}

// Dispatch 在不经过 HTTP 的情况下调度一次请求，path 可以携带查询字符串。
func (h *Handle) Dispatch(ctx context.Context, path string, req Request) *Envelope {
	return h.dispatcher.Dispatch(ctx, path, req)
}

// Routes 按匹配顺序返回当前路由表。
func (h *Handle) Routes() []*Route {
	return h.registry.List()
}

// Subscribe 返回路由表变化通知，Close 后通道关闭。
func (h *Handle) Subscribe() <-chan Event {
	return h.registry.Subscribe()
}

// Registry 暴露底层注册表，供 HTTP 诊断接口使用。
func (h *Handle) Registry() *registry.Registry {
	return h.registry
}

// Dispatcher 暴露底层调度器，供 HTTP 入口使用。
func (h *Handle) Dispatcher() *dispatch.Dispatcher {
	return h.dispatcher
}

// Close 停止监听并释放缓存、轮询与记忆存储。
func (h *Handle) Close() error {
	return errors.Join(
		h.registry.Close(),
		h.dispatcher.Close(),
		h.loader.Close(),
	)
}
