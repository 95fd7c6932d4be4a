package routes

import (
	"errors"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/server"
)

// RegisterSiteRoutes 暴露 /-/sites 诊断接口，供运维查看各站点缓存状态并单独重载文件。
func RegisterSiteRoutes(app *fiber.App, registry *server.SiteRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/sites", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sites": encodeSites(registry.List()),
		})
	})

	app.Get("/-/sites/:name", func(c fiber.Ctx) error {
		route, ok := registry.Lookup(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		return c.JSON(siteDetailPayload{
			sitePayload: encodeSite(route),
			Cached:      route.Store.Snapshot(),
		})
	})

	app.Post("/-/sites/:name/reload", func(c fiber.Ctx) error {
		route, ok := registry.Lookup(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		key := strings.TrimSpace(c.Query("path"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
		}
		key = path.Clean("/" + key)

		rec, err := route.Store.Reload(c.Context(), key)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
			}
			return err
		}
		meta := rec.Meta()
		return c.JSON(cache.EntryInfo{
			Key:      key,
			Length:   meta.Length,
			ModTime:  meta.ModTime,
			ETag:     meta.ETag,
			Buffered: rec.Buffered(),
			MaxAge:   rec.MaxAge(),
		})
	})
}

type sitePayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Root     string `json:"root"`
	Prefix   string `json:"prefix"`
	Mode     string `json:"mode"`
	Gzip     bool   `json:"gzip"`
	Buffer   bool   `json:"buffer"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	Digest   string `json:"digest"`
}

type siteDetailPayload struct {
	sitePayload
	Cached []cache.EntryInfo `json:"cached"`
}

func encodeSites(routes []*server.SiteRoute) []sitePayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeSite(route))
	}
	return result
}

func encodeSite(route *server.SiteRoute) sitePayload {
	return sitePayload{
		Name:     route.Config.Name,
		Domain:   route.Config.Domain,
		Root:     route.Store.Root(),
		Prefix:   route.Resolver.Prefix(),
		Mode:     route.Mode,
		Gzip:     route.Compressor.Enabled(),
		Buffer:   route.Config.Buffer,
		Entries:  route.Store.Len(),
		Capacity: route.Store.Capacity(),
		Digest:   route.Store.Digester().String(),
	}
}
