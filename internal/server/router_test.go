package server

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/config"
)

func TestRouterDispatchesInConfigOrder(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "http://any.local/docs/readme", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if got := strings.Join(app.recorder.visited, ","); got != "assets,docs" {
		t.Fatalf("expected assets to fall through to docs, visited=%s", got)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterDomainFilter(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("GET", "http://cdn.local/docs/readme", nil)
	req.Host = "CDN.local:5000"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if got := strings.Join(app.recorder.visited, ","); got != "assets,cdn" {
		t.Fatalf("expected cdn site to serve matching host, visited=%s", got)
	}
}

func TestSiteRouteMatchesHost(t *testing.T) {
	route := &SiteRoute{Config: config.SiteConfig{Domain: "cdn.local"}}
	for _, host := range []string{"cdn.local", "CDN.local:5000", "cdn.local.", " cdn.local "} {
		if !route.MatchesHost(host) {
			t.Fatalf("%q should match cdn.local", host)
		}
	}
	for _, host := range []string{"", "other.local", "cdn.local.evil", "[::1]:5000"} {
		if route.MatchesHost(host) {
			t.Fatalf("%q should not match cdn.local", host)
		}
	}
	if !(&SiteRoute{}).MatchesHost("anything:80") {
		t.Fatalf("site without domain should match any host")
	}
}

func TestRouterReturnsJSON404WhenNoSiteClaims(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "http://any.local/nothing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", string(body))
	}
}

func TestRouterDiagnosticsBypassSites(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://any.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	if len(app.recorder.visited) != 0 {
		t.Fatalf("diagnostics must not reach sites, visited=%v", app.recorder.visited)
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := newTestRegistry(t, logger)
	app, err := NewApp(AppOptions{
		Logger:   logger,
		Registry: registry,
		Handler: SiteHandlerFunc(func(fiber.Ctx, *SiteRoute) error {
			panic("boom")
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "http://any.local/x", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"internal_error"`)) {
		t.Fatalf("expected internal_error, got %s", string(body))
	}
}

func TestSiteRegistryBuildsRoutes(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := newTestRegistry(t, logger)

	routes := registry.List()
	if len(routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes))
	}
	if routes[0].Config.Name != "assets" || routes[2].Config.Name != "docs" {
		t.Fatalf("routes should keep config order")
	}

	route, ok := registry.Lookup("cdn")
	if !ok {
		t.Fatalf("expected cdn route")
	}
	if route.Mode != "dynamic-lru" {
		t.Fatalf("unexpected mode: %s", route.Mode)
	}
	if route.Store.Capacity() != 4 {
		t.Fatalf("unexpected capacity: %d", route.Store.Capacity())
	}
	if !route.MatchesHost("cdn.local.") || route.MatchesHost("other.local") {
		t.Fatalf("domain filter mismatch")
	}
	if _, ok := registry.Lookup("missing"); ok {
		t.Fatalf("unexpected route for missing site")
	}
}

func TestSiteRegistryRejectsInvalidRoot(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites:  []config.SiteConfig{{Name: "broken", Root: "/definitely/not/here"}},
	}
	if _, err := NewSiteRegistry(context.Background(), cfg, logger); err == nil {
		t.Fatalf("expected invalid root to fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *siteRecorder
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := newTestRegistry(t, logger)

	recorder := &siteRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    recorder,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testApp{App: app, recorder: recorder}
}

func newTestRegistry(t *testing.T, logger *logrus.Logger) *SiteRegistry {
	t.Helper()
	disabled := false
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			{Name: "assets", Root: t.TempDir(), Prefix: "/static"},
			{Name: "cdn", Domain: "cdn.local", Root: t.TempDir(), Preload: &disabled, Dynamic: true, MaxCacheEntries: 4},
			{Name: "docs", Root: t.TempDir(), Prefix: "/docs"},
		},
	}
	registry, err := NewSiteRegistry(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(registry.Close)
	return registry
}

// siteRecorder 只认领路径落在站点前缀内的请求，其余 fallthrough。
type siteRecorder struct {
	visited []string
}

func (s *siteRecorder) Handle(c fiber.Ctx, route *SiteRoute) error {
	s.visited = append(s.visited, route.Config.Name)
	if !route.Resolver.Match(c.Path()) || route.Resolver.Prefix() == "" && route.Config.Domain == "" {
		return c.Next()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
