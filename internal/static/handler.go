// Package static answers GET/HEAD requests for a site from its cached file
// table. Each request runs resolve, lookup, freshness, header assembly and
// body selection; paths the site does not own fall through to the next
// middleware.
package static

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/compress"
	"github.com/any-hub/static-hub/internal/freshness"
	"github.com/any-hub/static-hub/internal/logging"
	"github.com/any-hub/static-hub/internal/resolve"
	"github.com/any-hub/static-hub/internal/server"
)

const allowedMethods = "HEAD,GET,OPTIONS"

// Handler 实现 server.SiteHandler，自身无状态，站点状态全部来自 SiteRoute。
type Handler struct {
	logger *logrus.Logger
}

// NewHandler 创建静态文件处理器。
func NewHandler(logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{logger: logger}
}

// outcome 汇总一次请求的日志字段。
type outcome struct {
	status   int
	key      string
	cacheHit bool
	kind     string
	encoding string
}

// Handle 执行 解析 → 查表 → 新鲜度判断 → 组装响应头 → 选择正文 的流程。
// 不属于本站点的路径调用 c.Next()，由后续站点或最终的 404 处理。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	raw := c.OriginalURL()
	method := c.Method()

	if method == fiber.MethodOptions && route.Config.OptionsEnabled() && route.Resolver.Match(raw) {
		c.Set(fiber.HeaderAllow, allowedMethods)
		h.logResult(c, route, outcome{status: fiber.StatusNoContent}, started, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}

	res, err := route.Resolver.Resolve(raw)
	if err != nil {
		return c.Next()
	}

	var ctx context.Context = c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rec, hit, err := route.Store.Lookup(ctx, res)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return c.Next()
		}
		h.logResult(c, route, outcome{key: res.Key}, started, err)
		return err
	}

	if method != fiber.MethodGet && method != fiber.MethodHead {
		if !route.Config.MethodNotAllowed {
			return c.Next()
		}
		c.Set(fiber.HeaderAllow, allowedMethods)
		h.logResult(c, route, outcome{status: fiber.StatusMethodNotAllowed, key: res.Key, cacheHit: hit}, started, nil)
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	}

	meta := rec.Meta()
	setValidatorHeaders(c, rec, meta)

	validators := freshness.FromHeaders(func(key string) string { return c.Get(key) })
	if freshness.IsFresh(validators, meta.ETag, meta.ModTime) {
		h.logResult(c, route, outcome{status: fiber.StatusNotModified, key: res.Key, cacheHit: hit}, started, nil)
		return c.SendStatus(fiber.StatusNotModified)
	}

	c.Set(fiber.HeaderContentType, rec.ContentType)
	if md5, ok := route.Store.Digester().ContentMD5(meta.ETag); ok {
		c.Set("Content-MD5", md5)
	}
	if route.Compressor.Enabled() {
		c.Set(fiber.HeaderVary, fiber.HeaderAcceptEncoding)
	}

	acceptsGzip := compress.AcceptsGzip(c.Get(fiber.HeaderAcceptEncoding))
	body := route.Compressor.BodyFor(rec, acceptsGzip, precompiledSibling(ctx, route, res))
	if body.Encoding != "" {
		c.Set(fiber.HeaderContentEncoding, body.Encoding)
	}

	result := outcome{status: fiber.StatusOK, key: res.Key, cacheHit: hit, kind: body.Kind.String(), encoding: body.Encoding}
	err = h.writeBody(c, method, body)
	if errors.Is(err, fiber.ErrNotFound) {
		result.status = fiber.StatusNotFound
		h.logResult(c, route, result, started, nil)
		return err
	}
	h.logResult(c, route, result, started, err)
	return err
}

// writeBody 按正文类型输出；HEAD 只写长度不读文件。
func (h *Handler) writeBody(c fiber.Ctx, method string, body compress.Body) error {
	c.Status(fiber.StatusOK)

	if method == fiber.MethodHead {
		// 长度未知时 -1 表示分块传输，不谎报 Content-Length。
		c.Response().Header.SetContentLength(int(body.Length))
		return nil
	}

	if body.Kind != compress.Streamed {
		return c.Send(body.Bytes)
	}

	reader, err := body.Open()
	if err != nil {
		// 文件在查表之后被删除：撤回已写入的校验头，按未命中处理。
		clearEntityHeaders(c)
		return fiber.ErrNotFound
	}
	if body.Length >= 0 {
		return c.SendStream(reader, int(body.Length))
	}
	return c.SendStream(reader)
}

// precompiledSibling 延迟查找同路径加 .gz 的记录，不改变主文件在 LRU 中的位置。
func precompiledSibling(ctx context.Context, route *server.SiteRoute, res resolve.Resolution) compress.SiblingFunc {
	if !route.Compressor.PreferPrecompiled() {
		return nil
	}
	return func() *cache.Record {
		sibling, err := route.Store.Sibling(ctx, res.Key+".gz")
		if err != nil {
			return nil
		}
		return sibling
	}
}

func setValidatorHeaders(c fiber.Ctx, rec *cache.Record, meta cache.Meta) {
	c.Set(fiber.HeaderCacheControl, rec.CacheControl())
	c.Set(fiber.HeaderLastModified, meta.ModTime.UTC().Format(http.TimeFormat))
	if meta.ETag != "" {
		c.Set(fiber.HeaderETag, meta.ETag)
	}
}

func clearEntityHeaders(c fiber.Ctx) {
	header := &c.Response().Header
	for _, name := range []string{
		fiber.HeaderCacheControl,
		fiber.HeaderLastModified,
		fiber.HeaderETag,
		fiber.HeaderContentEncoding,
		fiber.HeaderVary,
		"Content-MD5",
	} {
		header.Del(name)
	}
}

func (h *Handler) logResult(c fiber.Ctx, route *server.SiteRoute, out outcome, started time.Time, err error) {
	fields := logging.RequestFields(route.Config.Name, route.Resolver.Prefix(), route.Mode, out.cacheHit)
	fields["action"] = "static"
	fields["method"] = c.Method()
	fields["status"] = out.status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if out.key != "" {
		fields["key"] = out.key
	}
	if out.kind != "" {
		fields["body"] = out.kind
	}
	if out.encoding != "" {
		fields["encoding"] = out.encoding
	}
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("static_failed")
		return
	}
	h.logger.WithFields(fields).Info("static_complete")
}
