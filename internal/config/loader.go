package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/fsroute/internal/cache"
)

// EnvConfigPath 是未显式传入 --config 时读取的环境变量。
const EnvConfigPath = "FSROUTE_CONFIG"

// DefaultIndexNames 是目录中被视为路由入口的文件名（不含扩展名）。
var DefaultIndexNames = []string{"index"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectUnknownSections(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("RoutesDir", "./routes")
	v.SetDefault("BasePath", "")
	v.SetDefault("ReadyDebounce", "1s")
	v.SetDefault("PollInterval", "1s")

	v.SetDefault("Cache.Expiry", "15s")
	v.SetDefault("Cache.MaxEntries", cache.DefaultMaxEntries)
	v.SetDefault("Cache.SweepInterval", "60s")

	v.SetDefault("Memo.Backend", MemoBackendMemory)
	v.SetDefault("Memo.TTL", "15s")
	v.SetDefault("Memo.MaxEntries", cache.DefaultMaxEntries)

	v.SetDefault("HTTP.AllowOrigins", []string{"*"})
	v.SetDefault("HTTP.MaxBodyBytes", 100<<20)
	v.SetDefault("HTTP.ReadTimeout", "30s")
	v.SetDefault("HTTP.WriteTimeout", "30s")

	v.SetDefault("Telemetry.Metrics", true)
	v.SetDefault("Telemetry.Tracing", false)
	v.SetDefault("Telemetry.SampleRatio", 1.0)
}

func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.RoutesDir) == "" {
		g.RoutesDir = "./routes"
	}
	if strings.TrimSpace(g.ModuleRoot) == "" {
		g.ModuleRoot = filepath.Dir(filepath.Clean(g.RoutesDir))
	}
	if len(g.IndexNames) == 0 {
		g.IndexNames = append([]string(nil), DefaultIndexNames...)
	}
	if g.ReadyDebounce.DurationValue() == 0 {
		g.ReadyDebounce = Duration(time.Second)
	}
	if g.PollInterval.DurationValue() == 0 {
		g.PollInterval = Duration(time.Second)
	}
	g.BasePath = normalizeBasePath(g.BasePath)

	m := &cfg.Memo
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	if m.Backend == "" {
		m.Backend = MemoBackendMemory
	}
	if m.Backend == MemoBackendFile && strings.TrimSpace(m.Dir) != "" {
		m.Dir = filepath.Clean(m.Dir)
	}
	if m.TTL.DurationValue() == 0 {
		m.TTL = Duration(15 * time.Second)
	}

	if len(cfg.HTTP.AllowOrigins) == 0 {
		cfg.HTTP.AllowOrigins = []string{"*"}
	}
}

// normalizeBasePath 输出 "" 或以 / 开头、不以 / 结尾的前缀。
func normalizeBasePath(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

func (c *Config) resolvePaths() error {
	routes, err := filepath.Abs(c.Global.RoutesDir)
	if err != nil {
		return fmt.Errorf("无法解析路由目录: %w", err)
	}
	root, err := filepath.Abs(c.Global.ModuleRoot)
	if err != nil {
		return fmt.Errorf("无法解析模块根目录: %w", err)
	}
	rel, err := filepath.Rel(root, routes)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return newFieldError("Global.ModuleRoot", "必须包含 RoutesDir")
	}
	c.Global.RoutesDir = routes
	c.Global.ModuleRoot = root
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

var knownSections = map[string]struct{}{
	"cache":     {},
	"memo":      {},
	"http":      {},
	"telemetry": {},
}

// rejectUnknownSections 拒绝拼写错误的表头，例如 [Chache]，避免配置被静默忽略。
func rejectUnknownSections(v *viper.Viper) error {
	for key, value := range v.AllSettings() {
		if _, ok := value.(map[string]interface{}); !ok {
			continue
		}
		if _, ok := knownSections[strings.ToLower(key)]; !ok {
			return newFieldError(key, "未知的配置段")
		}
	}
	return nil
}
