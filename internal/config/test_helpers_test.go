package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把 TOML 写入临时目录，Site 的相对 Root 会以该目录为基准。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一个能通过 Validate 的最小站点配置，Root 指向临时目录。
func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			PreloadWorkers:  2,
			ShutdownTimeout: Duration(time.Second),
		},
		Sites: []SiteConfig{{
			Name:         "assets",
			Root:         t.TempDir(),
			ETagHash:     "md5",
			ETagEncoding: "base64",
		}},
	}
}
