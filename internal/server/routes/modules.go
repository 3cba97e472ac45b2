package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/registry"
	"github.com/any-hub/fsroute/internal/route"
)

// RouteLister 提供当前路由表，*registry.Registry 满足该接口。
type RouteLister interface {
	List() []*registry.Entry
}

// RegisterDiagnostics 暴露 /-/routes、/-/modules 与 /-/metrics 诊断接口。
// gatherer 为空时不注册 /-/metrics。
func RegisterDiagnostics(app *fiber.App, lister RouteLister, gatherer prometheus.Gatherer) {
	if app == nil || lister == nil {
		return
	}

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"routes": encodeRoutes(lister.List(), time.Now()),
		})
	})

	app.Get("/-/modules", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"modules":    encodeModules(module.List()),
			"extensions": module.Extensions(),
		})
	})

	app.Get("/-/modules/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "module_key_required"})
		}
		meta, ok := module.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "module_not_found"})
		}
		return c.JSON(encodeModule(meta))
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

type routePayload struct {
	Key          string   `json:"key"`
	File         string   `json:"file"`
	Methods      []string `json:"methods"`
	Middleware   int      `json:"middleware"`
	CacheEntries int      `json:"cache_entries"`
	LoadedAt     string   `json:"loaded_at"`
	AgeSeconds   int64    `json:"age_seconds"`
}

type modulePayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
	Middleware  int      `json:"middleware"`
}

// encodeRoutes 保持注册顺序，即匹配顺序。
func encodeRoutes(entries []*registry.Entry, now time.Time) []routePayload {
	result := make([]routePayload, 0, len(entries))
	for _, e := range entries {
		item := routePayload{
			Key:        "/" + e.Key,
			File:       e.File,
			Methods:    methodNames(e.Module),
			Middleware: len(e.Module.Middleware),
			LoadedAt:   e.LoadedAt.Format(time.RFC3339),
			AgeSeconds: int64(now.Sub(e.LoadedAt) / time.Second),
		}
		if e.Cache != nil {
			item.CacheEntries = e.Cache.Len()
		}
		result = append(result, item)
	}
	return result
}

func encodeModules(mods []module.Metadata) []modulePayload {
	if len(mods) == 0 {
		return nil
	}
	sort.Slice(mods, func(i, j int) bool {
		return mods[i].Key < mods[j].Key
	})
	result := make([]modulePayload, 0, len(mods))
	for _, meta := range mods {
		result = append(result, encodeModule(meta))
	}
	return result
}

func encodeModule(meta module.Metadata) modulePayload {
	payload := modulePayload{Key: meta.Key, Description: meta.Description}
	if meta.New != nil {
		mod := meta.New()
		payload.Methods = methodNames(mod)
		payload.Middleware = len(mod.Middleware)
	}
	return payload
}

func methodNames(mod *route.Module) []string {
	if mod == nil {
		return nil
	}
	methods := mod.Methods()
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}
