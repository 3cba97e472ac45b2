// Package builtin 提供静态注册的 Go 路由模块，声明式路由文件通过 module: <key> 引用。
package builtin

import (
	"time"

	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
	"github.com/any-hub/fsroute/internal/version"
)

var startedAt = time.Now()

// health 模块返回进程存活状态，供负载均衡探活使用。
func init() {
	module.MustRegister(module.Metadata{
		Key:         "health",
		Description: "Liveness probe reporting version and uptime",
		New:         newHealth,
	})
}

func newHealth() *route.Module {
	return route.Empty("builtin:health").Handle(route.MethodAll, func(*route.Context, route.Next) (any, error) {
		return response.JSON(map[string]any{
			"status":  "ok",
			"version": version.Full(),
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
		}).WithHeader("Cache-Control", "no-store"), nil
	})
}
