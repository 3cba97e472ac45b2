// Package telemetry 负责初始化 Prometheus 指标注册表与 OpenTelemetry 链路追踪。
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName 写入 service.name 资源属性。
const ServiceName = "fsroute"

// TracingOptions 配置 span 导出。
type TracingOptions struct {
	Enabled bool
	// Endpoint 为 OTLP/HTTP 地址，例如 http://collector:4318；为空时读取 OTEL_EXPORTER_OTLP_* 环境变量。
	Endpoint    string
	SampleRatio float64
	Version     string
	Logger      *logrus.Logger
	// Exporter 用于测试注入，非空时忽略 Endpoint。
	Exporter sdktrace.SpanExporter
}

// ShutdownFunc 刷新并关闭导出器。
type ShutdownFunc func(context.Context) error

// InitTracing 创建全局 TracerProvider 与 W3C 传播器。未开启时返回 noop provider，
// 调用方无需区分两种情况。
func InitTracing(ctx context.Context, opts TracingOptions) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	exporter := opts.Exporter
	if exporter == nil {
		var exporterOpts []otlptracehttp.Option
		if opts.Endpoint != "" {
			exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
		}
		exp, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("创建 OTLP 导出器失败: %w", err)
		}
		exporter = exp
	}

	res, err := resource.Merge(resource.Environment(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("构建资源属性失败: %w", err), exporter.Shutdown(ctx))
	}

	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	shutdownFuncs = append(shutdownFuncs, provider.Shutdown)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if opts.Logger != nil {
		logger := opts.Logger
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			logger.WithField("action", "otel_error").Error(err)
		}))
	}

	return provider, shutdown, nil
}

// NewRegistry 返回带 Go 运行时与进程采集器的指标注册表；未开启时返回 nil，
// 调度器在 nil 注册表下不记录指标。
func NewRegistry(enabled bool) *prometheus.Registry {
	if !enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
