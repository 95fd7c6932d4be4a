package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SiteHandler serves a request for one site. Implementations call c.Next()
// when the path does not belong to the site so the next site can try it.
type SiteHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// SiteHandlerFunc adapts a function to the SiteHandler interface.
type SiteHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle makes SiteHandlerFunc satisfy SiteHandler.
func (f SiteHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Handler    SiteHandler
	ListenPort int
}

const contextKeyRequestID = "_statichub_request_id"

// NewApp builds a Fiber application that runs every site as a middleware in
// config order. Requests no site claims end in a JSON 404.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("site handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	for _, route := range opts.Registry.List() {
		app.Use(siteMiddleware(route, opts.Handler))
	}

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// siteMiddleware 只在 Host 匹配且不是诊断路径时把请求交给站点处理器。
func siteMiddleware(route *SiteRoute, handler SiteHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		if !route.MatchesHost(getHostHeader(c)) {
			return c.Next()
		}
		return handler.Handle(c, route)
	}
}

// errorHandler 把 fallthrough 404 与内部错误统一渲染为 JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}

		code := "internal_error"
		switch status {
		case fiber.StatusNotFound:
			code = "not_found"
		case fiber.StatusMethodNotAllowed:
			code = "method_not_allowed"
		default:
			if status < fiber.StatusInternalServerError {
				code = "bad_request"
			}
		}

		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "request_error",
				"path":       c.Path(),
				"request_id": RequestID(c),
				"error":      err.Error(),
			}).Error("request failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
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
