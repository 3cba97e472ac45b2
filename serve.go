package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/config"
	"github.com/any-hub/fsroute/internal/logging"
	"github.com/any-hub/fsroute/internal/memo"
	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/server"
	"github.com/any-hub/fsroute/internal/server/routes"
	"github.com/any-hub/fsroute/internal/telemetry"
	"github.com/any-hub/fsroute/internal/version"
	"github.com/any-hub/fsroute/pkg/fsroute"
)

// routesReadyTimeout 是 routes 子命令等待初始扫描稳定的上限。
const routesReadyTimeout = 30 * time.Second

func initLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.InitLogger(cfg.Global)
}

func runCheck(cfg *config.Config, opts cliOptions, logger *logrus.Logger) int {
	fields := logging.BaseFields("check_config", opts.configPath)
	fields["routes_dir"] = cfg.Global.RoutesDir
	fields["module_root"] = cfg.Global.ModuleRoot
	fields["memo_backend"] = cfg.Memo.Backend
	fields["extensions"] = module.Extensions()
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return 0
}

// runtimeDeps 是 serve 与 routes 共用的运行时组件。
type runtimeDeps struct {
	handle   *fsroute.Handle
	memo     memo.Store
	metrics  *prometheus.Registry
	shutdown telemetry.ShutdownFunc
}

func (d *runtimeDeps) Close(ctx context.Context) error {
	var err error
	if d.handle != nil {
		err = errors.Join(err, d.handle.Close())
	}
	if d.memo != nil {
		err = errors.Join(err, d.memo.Close())
	}
	if d.shutdown != nil {
		err = errors.Join(err, d.shutdown(ctx))
	}
	return err
}

// buildRuntime 按“记忆存储 → 指标/追踪 → 路由注册表”的顺序组装组件，
// 任一步失败都会回收已创建的资源。
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*runtimeDeps, error) {
	deps := &runtimeDeps{}
	fail := func(err error) (*runtimeDeps, error) {
		_ = deps.Close(context.Background())
		return nil, err
	}

	store, err := newMemoStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.memo = store

	deps.metrics = telemetry.NewRegistry(cfg.Telemetry.Metrics)
	tp, shutdown, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
		Enabled:     cfg.Telemetry.Tracing,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Version:     version.Version,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}
	deps.shutdown = shutdown

	options := []fsroute.Option{
		fsroute.WithLogger(logger),
		fsroute.WithModuleRoot(cfg.Global.ModuleRoot),
		fsroute.WithBasePath(cfg.Global.BasePath),
		fsroute.WithIndexNames(cfg.Global.IndexNames...),
		fsroute.WithReadyDebounce(cfg.Global.ReadyDebounce.DurationValue()),
		fsroute.WithPollInterval(cfg.Global.PollInterval.DurationValue()),
		fsroute.WithCacheDefaults(cfg.Cache.Options()),
		fsroute.WithMemo(store, cfg.Memo.TTL.DurationValue()),
		fsroute.WithTracerProvider(tp),
	}
	if deps.metrics != nil {
		options = append(options, fsroute.WithMetrics(deps.metrics))
	}

	handle, err := fsroute.Start(ctx, cfg.Global.RoutesDir, options...)
	if err != nil {
		return fail(fmt.Errorf("启动路由注册表失败: %w", err))
	}
	deps.handle = handle
	return deps, nil
}

func newMemoStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (memo.Store, error) {
	ttl := cfg.Memo.TTL.DurationValue()
	switch cfg.Memo.Backend {
	case config.MemoBackendFile:
		return memo.NewFileStore(cfg.Memo.Dir, ttl)
	case config.MemoBackendRedis:
		return memo.NewRedisStore(ctx, memo.RedisOptions{
			Addr:       cfg.Memo.RedisAddr,
			Password:   cfg.Memo.RedisPassword,
			DB:         cfg.Memo.RedisDB,
			Prefix:     cfg.Memo.RedisPrefix,
			DefaultTTL: ttl,
			Logger:     logger,
		})
	default:
		return memo.NewMemoryStore(ttl, cfg.Memo.MaxEntries)
	}
}

func runRoutes(cfg *config.Config, opts cliOptions, logger *logrus.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), routesReadyTimeout)
	defer cancel()

	deps, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	defer deps.Close(context.Background())

	if err := deps.handle.Ready(ctx); err != nil {
		fmt.Fprintf(stdErr, "等待路由就绪超时: %v\n", err)
		return 1
	}
	printRoutes(deps.handle.Routes())
	return 0
}

// printRoutes 按匹配顺序输出路由表。
func printRoutes(list []*fsroute.Route) {
	w := tabwriter.NewWriter(stdOut, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tMETHODS\tFILE")
	for _, r := range list {
		methods := make([]string, 0, 4)
		for _, m := range r.Module.Methods() {
			methods = append(methods, string(m))
		}
		fmt.Fprintf(w, "/%s\t%s\t%s\n", r.Key, strings.Join(methods, ","), r.File)
	}
	_ = w.Flush()
}

func runServe(cfg *config.Config, opts cliOptions, logger *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.WithField("action", "shutdown").Warn(err.Error())
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["routes_dir"] = cfg.Global.RoutesDir
	fields["base_path"] = cfg.Global.BasePath
	fields["memo_backend"] = cfg.Memo.Backend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, deps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// startHTTPServer 阻塞到监听失败或收到退出信号，收到信号后优雅关闭。
func startHTTPServer(ctx context.Context, cfg *config.Config, deps *runtimeDeps, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		Dispatcher:    deps.handle.Dispatcher(),
		AllowOrigins:  cfg.HTTP.AllowOrigins,
		ExposeHeaders: cfg.HTTP.ExposeHeaders,
		BodyLimit:     cfg.HTTP.MaxBodyBytes,
		ReadTimeout:   cfg.HTTP.ReadTimeout.DurationValue(),
		WriteTimeout:  cfg.HTTP.WriteTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	var gatherer prometheus.Gatherer
	if deps.metrics != nil {
		gatherer = deps.metrics
	}
	routes.RegisterDiagnostics(app, deps.handle.Registry(), gatherer)

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号，停止监听")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	}
}
