package dispatch

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/fsroute/internal/logging"
	"github.com/any-hub/fsroute/internal/memo"
	"github.com/any-hub/fsroute/internal/registry"
	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

const tracerName = "github.com/any-hub/fsroute/internal/dispatch"

// Table 提供路由表快照，*registry.Registry 与 *registry.Snapshot 都满足该接口。
type Table interface {
	Snapshot() *registry.Snapshot
}

// Options 配置调度器。
type Options struct {
	Registry Table
	// Memo 为空时使用以 MemoTTL 为默认 TTL 的内存后端。
	Memo   memo.Store
	Logger *logrus.Logger
	// BasePath 是挂载前缀，匹配路由前会被去掉。
	BasePath string
	// Metrics 为空时不采集指标。
	Metrics prometheus.Registerer
	// TracerProvider 为空时使用全局 provider。
	TracerProvider trace.TracerProvider
	MemoTTL        time.Duration
}

// Dispatcher 把请求路径解析到路由并执行中间件与处理函数链路。
type Dispatcher struct {
	table    Table
	memo     memo.Store
	ownsMemo bool
	logger   *logrus.Logger
	basePath string
	memoTTL  time.Duration
	metrics  *metrics
	tracer   trace.Tracer
}

// New 创建调度器。
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("route table is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ttl := opts.MemoTTL
	if ttl <= 0 {
		ttl = route.DefaultMemoTTL
	}
	store := opts.Memo
	owns := false
	if store == nil {
		mem, err := memo.NewMemoryStore(ttl, 0)
		if err != nil {
			return nil, err
		}
		store, owns = mem, true
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Dispatcher{
		table:    opts.Registry,
		memo:     store,
		ownsMemo: owns,
		logger:   logger,
		basePath: opts.BasePath,
		memoTTL:  ttl,
		metrics:  newMetrics(opts.Metrics),
		tracer:   tp.Tracer(tracerName),
	}, nil
}

// Memo 实现 route.Services。
func (d *Dispatcher) Memo() memo.Store {
	return d.memo
}

// Fetch 实现 route.Services，供处理函数发起嵌套调度。
func (d *Dispatcher) Fetch(ctx context.Context, path string, req route.Request) *response.Envelope {
	return d.Dispatch(ctx, path, req)
}

// Close 释放调度器自建的记忆存储。
func (d *Dispatcher) Close() error {
	if d.ownsMemo {
		return d.memo.Close()
	}
	return nil
}

// Dispatch 执行一次调度。任何失败都会转换为 500 响应，返回值总是带有耗时信息。
func (d *Dispatcher) Dispatch(ctx context.Context, path string, req route.Request) *response.Envelope {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "GET"
	}

	ctx, span := d.tracer.Start(ctx, "fsroute.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	rawPath, urlQuery := splitQuery(path)
	from := ""
	if req.Ambient != nil {
		from = req.Ambient.From
	}
	resolved := resolvePath(from, rawPath)
	routePath := stripBase(resolved, d.basePath)
	span.SetAttributes(
		attribute.String("fsroute.path", resolved),
		attribute.String("http.request.method", method),
	)

	entry, params, ok := d.table.Snapshot().Lookup(routePath)
	if !ok {
		return d.fail(span, start, "", method, "", &RouteError{Path: routePath, Err: ErrRouteNotFound})
	}
	span.SetAttributes(attribute.String("fsroute.route", entry.Key))

	handlers, verb, ok := entry.Module.Resolve(method)
	if !ok || len(handlers) == 0 {
		return d.fail(span, start, entry.Key, method, entry.File, &RouteError{Path: routePath, Err: ErrMethodNotAllowed})
	}

	c, err := d.buildContext(ctx, entry, params, method, resolved, urlQuery, req)
	if err != nil {
		return d.fail(span, start, entry.Key, method, entry.File, err)
	}
	c.Logger().WithField("verb", string(verb)).Debug("dispatch")

	steps := make([]route.Handler, 0, len(entry.Module.Middleware)+len(handlers))
	steps = append(steps, entry.Module.Middleware...)
	steps = append(steps, handlers...)

	result, err := d.runChain(c, steps)
	if err != nil {
		return d.fail(span, start, entry.Key, method, entry.File, err)
	}

	var env *response.Envelope
	if hit, isHit := result.(*response.CacheHit); isHit {
		d.metrics.memoHit(entry.Key)
		span.SetAttributes(attribute.Bool("fsroute.memo_hit", true))
		env = hit.Envelope
		if env == nil {
			env = response.New()
		}
	} else {
		env = response.Send(result)
		if env == nil {
			env = response.New()
		}
		d.remember(c, env)
	}

	env = finalize(env, c.ResponseHeaders(), start)
	span.SetAttributes(attribute.Int("http.response.status_code", env.Code))
	if !env.OK() {
		span.SetStatus(codes.Error, env.Message)
	}
	d.metrics.observe(entry.Key, method, env.Code, env.Timing.Duration)
	return env
}

func (d *Dispatcher) buildContext(ctx context.Context, entry *registry.Entry, params map[string]string, method, resolved string, urlQuery map[string]string, req route.Request) (*route.Context, error) {
	files, err := normalizeFiles(req.Files)
	if err != nil {
		return nil, err
	}

	logger := d.logger.WithFields(logging.RouteFields(entry.Key, entry.File, method))
	c := route.NewContext(ctx, d, entry.Cache, logger)
	c.Method = method
	c.Path = resolved
	c.Route = entry.Key
	c.Files = files

	ambient := req.Ambient
	if ambient == nil {
		ambient = &route.Ambient{}
	}
	lowerKeys(c.Headers, ambient.Headers)
	lowerKeys(c.Headers, req.Headers)
	merge(c.Query, ambient.Query)
	merge(c.Query, req.Query)
	merge(c.Query, urlQuery)
	merge(c.Params, params)
	merge(c.Params, req.Params)

	c.Body = req.Body
	if c.Body == nil {
		c.Body = map[string]any{}
	}

	switch {
	case req.RequestID != "":
		c.RequestID = req.RequestID
	case ambient.RequestID != "":
		c.RequestID = ambient.RequestID
	default:
		c.RequestID = uuid.NewString()
	}
	return c, nil
}

// runChain 依次执行中间件与处理函数：调用 next 的步骤继续链路，未调用则结束；
// 返回 CacheHit 的步骤立即结束链路。最后一个执行步骤的返回值即为结果。
func (d *Dispatcher) runChain(c *route.Context, steps []route.Handler) (any, error) {
	var result any
	for i, step := range steps {
		if i > 0 {
			runtime.Gosched()
		}
		proceed := false
		out, err := callStep(c, step, func() { proceed = true })
		if err != nil {
			return nil, err
		}
		if hit, ok := out.(*response.CacheHit); ok {
			return hit, nil
		}
		result = out
		if !proceed {
			break
		}
	}
	return result, nil
}

func callStep(c *route.Context, step route.Handler, next route.Next) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return step(c, next)
}

// remember 在 CacheControl 未命中且最终响应为 2xx 时写入记忆。
func (d *Dispatcher) remember(c *route.Context, env *response.Envelope) {
	pending, ok := c.PendingMemo()
	if !ok || !env.OK() || env.Kind == response.KindStream {
		return
	}
	ttl := pending.TTL
	if ttl <= 0 {
		ttl = d.memoTTL
	}
	if err := d.memo.Put(c.Context(), pending.Key, env, ttl); err != nil {
		c.Logger().WithFields(logrus.Fields{"action": "memo_put", "memo_key": pending.Key}).Warn(err.Error())
	}
}

// finalize 复制响应，补上处理过程中追加的响应头并打上耗时。
// 响应自身声明的头优先。
func finalize(env *response.Envelope, extra map[string]string, start time.Time) *response.Envelope {
	out := *env
	if len(env.Headers) > 0 || len(extra) > 0 {
		out.Headers = make(map[string]string, len(env.Headers)+len(extra))
		for k, v := range extra {
			out.Headers[k] = v
		}
		for k, v := range env.Headers {
			out.Headers[k] = v
		}
	}
	return out.Stamp(start, time.Now())
}

func (d *Dispatcher) fail(span trace.Span, start time.Time, routeKey, method, file string, err error) *response.Envelope {
	kind := "handler"
	switch {
	case errors.Is(err, ErrRouteNotFound):
		kind = "route_not_found"
	case errors.Is(err, ErrMethodNotAllowed):
		kind = "method_not_allowed"
	case errors.As(err, new(*PanicError)):
		kind = "panic"
	}

	fields := logrus.Fields{"action": "dispatch", "error_kind": kind}
	var src *route.SourceError
	if errors.As(err, &src) {
		for k, v := range logging.SourceFields(src.File, src.Line, 0) {
			fields[k] = v
		}
	} else if file != "" {
		fields["file"] = file
	}
	entry := d.logger.WithFields(logging.RouteFields(routeKey, "", method)).WithFields(fields)
	if kind == "route_not_found" || kind == "method_not_allowed" {
		entry.Warn(err.Error())
	} else {
		entry.Error(err.Error())
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(attribute.Int("http.response.status_code", 500))
	d.metrics.failure(routeKey, kind)

	env := response.Error(500, sanitize(err)).Stamp(start, time.Now())
	d.metrics.observe(routeKey, method, env.Code, env.Timing.Duration)
	return env
}
