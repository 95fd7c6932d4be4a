package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数，所有站点共享。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	PreloadWorkers  int      `mapstructure:"PreloadWorkers"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// AliasConfig 把一个别名路径映射到已存在的规范路径。
type AliasConfig struct {
	From string `mapstructure:"From"`
	To   string `mapstructure:"To"`
}

// SiteConfig 决定单个静态目录如何被缓存与对外提供。
type SiteConfig struct {
	Name                  string        `mapstructure:"Name"`
	Domain                string        `mapstructure:"Domain"`
	Root                  string        `mapstructure:"Root"`
	Prefix                string        `mapstructure:"Prefix"`
	MaxAge                int           `mapstructure:"MaxAge"`
	CacheControl          string        `mapstructure:"CacheControl"`
	Gzip                  bool          `mapstructure:"Gzip"`
	PreferPrecompiledGzip bool          `mapstructure:"PreferPrecompiledGzip"`
	Preload               *bool         `mapstructure:"Preload"`
	Dynamic               bool          `mapstructure:"Dynamic"`
	Buffer                bool          `mapstructure:"Buffer"`
	MaxCacheEntries       int           `mapstructure:"MaxCacheEntries"`
	MethodNotAllowed      bool          `mapstructure:"MethodNotAllowed"`
	Options               *bool         `mapstructure:"Options"`
	Filter                []string      `mapstructure:"Filter"`
	ETagHash              string        `mapstructure:"ETagHash"`
	ETagEncoding          string        `mapstructure:"ETagEncoding"`
	Aliases               []AliasConfig `mapstructure:"Alias"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// PreloadEnabled 未显式配置时默认启动即预加载。
func (s SiteConfig) PreloadEnabled() bool {
	return s.Preload == nil || *s.Preload
}

// OptionsEnabled 未显式配置时默认响应 OPTIONS。
func (s SiteConfig) OptionsEnabled() bool {
	return s.Options == nil || *s.Options
}

// Mode 输出 preload / dynamic / dynamic-lru 等组合，供日志与诊断使用。
func (s SiteConfig) Mode() string {
	var parts []string
	if s.PreloadEnabled() {
		parts = append(parts, "preload")
	}
	if s.Dynamic {
		if s.MaxCacheEntries > 0 {
			parts = append(parts, "dynamic-lru")
		} else {
			parts = append(parts, "dynamic")
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, "+")
}

// AliasMap 将 Alias 数组转换为 map，后定义的同名别名覆盖前者。
func (s SiteConfig) AliasMap() map[string]string {
	if len(s.Aliases) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.Aliases))
	for _, alias := range s.Aliases {
		out[alias.From] = alias.To
	}
	return out
}

// SiteModes 返回所有站点的模式摘要，例如 assets:preload+dynamic。
func SiteModes(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.Mode())
	}
	return result
}
