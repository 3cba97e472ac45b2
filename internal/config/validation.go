package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/module"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
		}
	}
	if strings.TrimSpace(g.RoutesDir) == "" {
		return newFieldError("Global.RoutesDir", "不能为空")
	}
	if g.ReadyDebounce.DurationValue() < 0 {
		return newFieldError("Global.ReadyDebounce", "不能为负数")
	}
	if g.PollInterval.DurationValue() <= 0 {
		return newFieldError("Global.PollInterval", "必须大于 0")
	}
	for _, name := range g.IndexNames {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\.`) {
			return newFieldError("Global.IndexNames", fmt.Sprintf("非法文件名: %q", name))
		}
	}

	if err := c.Cache.Options().Validate(); err != nil {
		return newFieldError(sectionField("Cache", "Expiry/MaxEntries"), err.Error())
	}
	if c.Cache.MaxEntries < 0 {
		return newFieldError(sectionField("Cache", "MaxEntries"), "不能为负数")
	}

	switch c.Memo.Backend {
	case MemoBackendMemory:
	case MemoBackendRedis:
		if err := validateAddr(c.Memo.RedisAddr); err != nil {
			return fmt.Errorf("%s: %w", sectionField("Memo", "RedisAddr"), err)
		}
		if c.Memo.RedisDB < 0 {
			return newFieldError(sectionField("Memo", "RedisDB"), "不能为负数")
		}
	case MemoBackendFile:
		if strings.TrimSpace(c.Memo.Dir) == "" {
			return newFieldError(sectionField("Memo", "Dir"), "file 后端需要目录")
		}
	default:
		return newFieldError(sectionField("Memo", "Backend"), "仅支持 memory/redis/file")
	}
	if c.Memo.TTL.DurationValue() <= 0 {
		return newFieldError(sectionField("Memo", "TTL"), "必须大于 0")
	}

	if c.HTTP.MaxBodyBytes < 0 {
		return newFieldError(sectionField("HTTP", "MaxBodyBytes"), "不能为负数")
	}
	for _, origin := range c.HTTP.AllowOrigins {
		if origin != "*" && !strings.Contains(origin, "://") {
			return newFieldError(sectionField("HTTP", "AllowOrigins"), fmt.Sprintf("缺少协议头: %s", origin))
		}
	}

	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return newFieldError(sectionField("Telemetry", "SampleRatio"), "必须在 0-1")
	}

	if len(module.Extensions()) == 0 {
		return errors.New("没有注册任何路由编译器")
	}

	return nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("缺少 Redis 地址")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("地址格式应为 host:port: %w", err)
	}
	return nil
}
