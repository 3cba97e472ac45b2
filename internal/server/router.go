package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

// DefaultBodyLimit 是请求体上限（100 MiB）。
const DefaultBodyLimit = 100 << 20

// ErrOriginNotAllowed 表示请求的 Origin 不在白名单中。
var ErrOriginNotAllowed = errors.New("Origin not allowed")

// Dispatcher describes the component that turns a request into an envelope.
// It allows injecting fake dispatchers during tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, path string, req route.Request) *response.Envelope
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, path string, req route.Request) *response.Envelope

// Dispatch makes DispatcherFunc satisfy Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, path string, req route.Request) *response.Envelope {
	return f(ctx, path, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher Dispatcher
	// AllowOrigins 为空时允许任意来源。
	AllowOrigins  []string
	ExposeHeaders []string
	BodyLimit     int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

const contextKeyRequestID = "_fsroute_request_id"

// NewApp builds a Fiber application that forwards every non-diagnostics request
// to the dispatcher and writes the resulting envelope.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	bodyLimit := opts.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     bodyLimit,
		ReadTimeout:   opts.ReadTimeout,
		WriteTimeout:  opts.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		ExposeHeaders: opts.ExposeHeaders,
	}))
	app.Use(originGuard(origins, opts.Logger))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		req, err := buildRequest(c)
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "request_decode",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).Warn(err.Error())
			return writeEnvelope(c, response.Error(fiber.StatusBadRequest, err.Error()))
		}
		ctx := otel.GetTextMapPropagator().Extract(c.Context(), propagation.MapCarrier(req.Headers))
		env := opts.Dispatcher.Dispatch(ctx, c.OriginalURL(), req)
		logRequest(opts.Logger, c, env)
		return writeEnvelope(c, env)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并回写到 X-Request-ID 响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// originGuard 拒绝不在白名单中的跨域请求，诊断接口同样受限。
func originGuard(origins []string, logger *logrus.Logger) fiber.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(c fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" || allowAll {
			return c.Next()
		}
		if _, ok := allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))]; ok {
			return c.Next()
		}
		logger.WithFields(logrus.Fields{
			"action":     "origin_guard",
			"origin":     origin,
			"request_id": RequestID(c),
		}).Warn(ErrOriginNotAllowed.Error())
		return writeEnvelope(c, response.Error(fiber.StatusForbidden, ErrOriginNotAllowed.Error()))
	}
}

func logRequest(logger *logrus.Logger, c fiber.Ctx, env *response.Envelope) {
	entry := logger.WithFields(logrus.Fields{
		"action":      "request",
		"method":      c.Method(),
		"path":        c.Path(),
		"status":      env.Code,
		"duration_ms": env.Timing.Duration.Milliseconds(),
		"request_id":  RequestID(c),
	})
	if env.Code >= fiber.StatusInternalServerError {
		entry.Warn(env.Message)
		return
	}
	entry.Debug("request served")
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
