package builtin

import (
	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/route"
)

// echo 模块把调度器构建的请求上下文原样返回，便于排查参数合并与路由匹配。
func init() {
	module.MustRegister(module.Metadata{
		Key:         "echo",
		Description: "Echo the dispatch context as JSON",
		New:         newEcho,
	})
	module.MustRegister(module.Metadata{
		Key:         "powered-by",
		Description: "Middleware adding an X-Powered-By header",
		New:         newPoweredBy,
	})
}

func newEcho() *route.Module {
	return route.Empty("builtin:echo").Handle(route.MethodAll, func(c *route.Context, _ route.Next) (any, error) {
		files := make([]route.File, len(c.Files))
		copy(files, c.Files)
		return map[string]any{
			"method":     c.Method,
			"route":      c.Route,
			"path":       c.Path,
			"params":     c.Params,
			"query":      c.Query,
			"headers":    c.Headers,
			"body":       c.Body,
			"files":      files,
			"request_id": c.RequestID,
		}, nil
	})
}

func newPoweredBy() *route.Module {
	return route.Empty("builtin:powered-by").Use(func(c *route.Context, next route.Next) (any, error) {
		c.SetHeader("X-Powered-By", "fsroute")
		next()
		return nil, nil
	})
}
