package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/compress"
	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/resolve"
)

// SiteRoute 聚合单个站点的配置与运行期组件（解析器、文件表、压缩器），
// 在启动阶段构建一次，之后按引用传给每个请求。
type SiteRoute struct {
	// Config 是 config.toml 中声明的站点字段副本。
	Config     config.SiteConfig
	Resolver   *resolve.Resolver
	Store      *cache.Store
	Compressor *compress.Compressor
	// Mode 记录 preload / dynamic / dynamic-lru 组合，便于日志与诊断。
	Mode string
}

// MatchesHost 判断请求 Host 是否属于该站点；未配置 Domain 时匹配任意 Host。
func (r *SiteRoute) MatchesHost(host string) bool {
	if r.Config.Domain == "" {
		return true
	}
	return normalizeHost(host) == r.Config.Domain
}

// SiteRegistry 按配置顺序保存所有站点，并支持按名称查询。
type SiteRegistry struct {
	byName  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 为每个站点构建文件表；任何站点构建失败都会中止启动并释放已创建的资源。
func NewSiteRegistry(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	registry := &SiteRegistry{
		byName: make(map[string]*SiteRoute, len(cfg.Sites)),
	}
	for _, site := range cfg.Sites {
		if _, exists := registry.byName[site.Name]; exists {
			registry.Close()
			return nil, fmt.Errorf("duplicate site name %s", site.Name)
		}
		route, err := buildSiteRoute(ctx, cfg.Global, site, logger)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}
		registry.byName[site.Name] = route
		registry.ordered = append(registry.ordered, route)

		logger.WithFields(logrus.Fields{
			"action":  "site_ready",
			"site":    site.Name,
			"mode":    route.Mode,
			"root":    route.Store.Root(),
			"prefix":  route.Resolver.Prefix(),
			"entries": route.Store.Len(),
		}).Info("site registered")
	}
	return registry, nil
}

// Lookup 根据站点名称查找 SiteRoute。
func (r *SiteRegistry) Lookup(name string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 按配置顺序返回所有站点，中间件链也按这个顺序挂载。
func (r *SiteRegistry) List() []*SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SiteRoute(nil), r.ordered...)
}

// Close 停止所有站点的后台任务。
func (r *SiteRegistry) Close() {
	if r == nil {
		return
	}
	for _, route := range r.ordered {
		route.Store.Close()
	}
}

func buildSiteRoute(ctx context.Context, global config.GlobalConfig, site config.SiteConfig, logger *logrus.Logger) (*SiteRoute, error) {
	resolver, err := resolve.NewResolver(site.Root, site.Prefix)
	if err != nil {
		return nil, err
	}
	digester, err := cache.NewDigester(site.ETagHash, site.ETagEncoding)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(ctx, cache.Options{
		Root:         resolver.Root(),
		Preload:      site.PreloadEnabled(),
		Dynamic:      site.Dynamic,
		Buffer:       site.Buffer,
		MaxEntries:   site.MaxCacheEntries,
		MaxAge:       site.MaxAge,
		CacheControl: site.CacheControl,
		Aliases:      normalizeAliases(site.AliasMap()),
		Filter:       cache.AllowList(site.Filter),
		Digest:       digester,
		Workers:      global.PreloadWorkers,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return &SiteRoute{
		Config:   site,
		Resolver: resolver,
		Store:    store,
		Compressor: compress.NewCompressor(compress.Options{
			Enabled:           site.Gzip,
			PreferPrecompiled: site.PreferPrecompiledGzip,
			Logger:            logger,
		}),
		Mode: site.Mode(),
	}, nil
}

func normalizeAliases(aliases map[string]string) map[string]string {
	if len(aliases) == 0 {
		return nil
	}
	out := make(map[string]string, len(aliases))
	for from, to := range aliases {
		out[path.Clean("/"+from)] = path.Clean("/" + to)
	}
	return out
}

func normalizeHost(raw string) string {
	host := strings.TrimSpace(raw)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if idx := strings.LastIndex(host, ":"); idx > -1 && !strings.Contains(host[:idx], ":") {
		if _, err := strconv.Atoi(host[idx+1:]); err == nil {
			host = host[:idx]
		}
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
