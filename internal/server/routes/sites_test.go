package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/server"
)

func TestSitesListing(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/sites", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Sites []sitePayload `json:"sites"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(payload.Sites) != 1 {
		t.Fatalf("expected one site, got %d", len(payload.Sites))
	}
	site := payload.Sites[0]
	if site.Name != "assets" || site.Mode != "preload" || site.Entries != 1 || site.Prefix != "/static/" {
		t.Fatalf("unexpected site payload: %+v", site)
	}
	if site.Digest != "md5/base64" {
		t.Fatalf("unexpected digest: %s", site.Digest)
	}
}

func TestSiteDetail(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/sites/assets", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload siteDetailPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(payload.Cached) != 1 || payload.Cached[0].Key != "/app.js" || !payload.Cached[0].Buffered {
		t.Fatalf("unexpected entries: %+v", payload.Cached)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/sites/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", resp.StatusCode)
	}
}

func TestSiteReload(t *testing.T) {
	app, root := newDiagnosticsApp(t)

	if err := os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log('v2')"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/-/sites/assets/reload?path=/app.js", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	var entry struct {
		Key    string `json:"key"`
		Length int64  `json:"length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if entry.Key != "/app.js" || entry.Length != int64(len("console.log('v2')")) {
		t.Fatalf("unexpected reload result: %+v", entry)
	}

	for target, status := range map[string]int{
		"/-/sites/assets/reload":               fiber.StatusBadRequest,
		"/-/sites/assets/reload?path=/nope.js": fiber.StatusNotFound,
		"/-/sites/missing/reload?path=/app.js": fiber.StatusNotFound,
	} {
		resp, err := app.Test(httptest.NewRequest("POST", target, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		if resp.StatusCode != status {
			t.Fatalf("%s: expected %d, got %d", target, status, resp.StatusCode)
		}
	}
}

func newDiagnosticsApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			{Name: "assets", Root: root, Prefix: "/static", Buffer: true},
		},
	}
	registry, err := server.NewSiteRegistry(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	t.Cleanup(registry.Close)

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
		Handler: server.SiteHandlerFunc(func(c fiber.Ctx, _ *server.SiteRoute) error {
			return c.Next()
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	RegisterSiteRoutes(app, registry)
	return app, root
}
