package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/fsroute/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：监听端口、日志与路由目录。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	RoutesDir     string   `mapstructure:"RoutesDir"`
	ModuleRoot    string   `mapstructure:"ModuleRoot"`
	BasePath      string   `mapstructure:"BasePath"`
	IndexNames    []string `mapstructure:"IndexNames"`
	ReadyDebounce Duration `mapstructure:"ReadyDebounce"`
	PollInterval  Duration `mapstructure:"PollInterval"`
}

// CacheConfig 是每条路由缓存的默认策略，路由模块可以逐项覆盖。
type CacheConfig struct {
	Expiry        Duration `mapstructure:"Expiry"`
	MaxEntries    int      `mapstructure:"MaxEntries"`
	SweepInterval Duration `mapstructure:"SweepInterval"`
}

// Options 转换为缓存包使用的策略。
func (c CacheConfig) Options() cache.Options {
	return cache.Options{
		Expiry:        c.Expiry.DurationValue(),
		MaxEntries:    c.MaxEntries,
		SweepInterval: c.SweepInterval.DurationValue(),
	}
}

const (
	MemoBackendMemory = "memory"
	MemoBackendRedis  = "redis"
	MemoBackendFile   = "file"
)

// MemoConfig 选择 ctx.CacheControl 记忆响应的存储后端。
type MemoConfig struct {
	Backend       string   `mapstructure:"Backend"`
	TTL           Duration `mapstructure:"TTL"`
	MaxEntries    int      `mapstructure:"MaxEntries"`
	Dir           string   `mapstructure:"Dir"`
	RedisAddr     string   `mapstructure:"RedisAddr"`
	RedisPassword string   `mapstructure:"RedisPassword"`
	RedisDB       int      `mapstructure:"RedisDB"`
	RedisPrefix   string   `mapstructure:"RedisPrefix"`
}

// HTTPConfig 控制 HTTP 入口的 CORS、请求体上限与超时。
type HTTPConfig struct {
	AllowOrigins  []string `mapstructure:"AllowOrigins"`
	ExposeHeaders []string `mapstructure:"ExposeHeaders"`
	MaxBodyBytes  int      `mapstructure:"MaxBodyBytes"`
	ReadTimeout   Duration `mapstructure:"ReadTimeout"`
	WriteTimeout  Duration `mapstructure:"WriteTimeout"`
}

// TelemetryConfig 开关指标与链路追踪。
// Tracing 打开后使用 OTLP/HTTP 导出，OTLPEndpoint 为空时读取 OTEL_EXPORTER_OTLP_* 环境变量。
type TelemetryConfig struct {
	Metrics      bool    `mapstructure:"Metrics"`
	Tracing      bool    `mapstructure:"Tracing"`
	OTLPEndpoint string  `mapstructure:"OTLPEndpoint"`
	SampleRatio  float64 `mapstructure:"SampleRatio"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:"Cache"`
	Memo      MemoConfig      `mapstructure:"Memo"`
	HTTP      HTTPConfig      `mapstructure:"HTTP"`
	Telemetry TelemetryConfig `mapstructure:"Telemetry"`
}
