package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	baseDir := filepath.Dir(path)
	for i := range cfg.Sites {
		if err := applySiteDefaults(&cfg.Sites[i], baseDir); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("PreloadWorkers", 8)
	v.SetDefault("ShutdownTimeout", "10s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.PreloadWorkers <= 0 {
		g.PreloadWorkers = 8
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// applySiteDefaults 补齐站点默认值；相对 Root 以配置文件所在目录为基准。
func applySiteDefaults(s *SiteConfig, baseDir string) error {
	s.Name = strings.TrimSpace(s.Name)
	root := strings.TrimSpace(s.Root)
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("无法获取工作目录: %w", err)
		}
		root = cwd
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%s: %w", siteField(s.Name, "Root"), err)
	}
	s.Root = abs

	if s.ETagHash == "" {
		s.ETagHash = "md5"
	}
	if s.ETagEncoding == "" {
		s.ETagEncoding = "base64"
	}
	s.ETagHash = strings.ToLower(strings.TrimSpace(s.ETagHash))
	s.ETagEncoding = strings.ToLower(strings.TrimSpace(s.ETagEncoding))
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	if s.MaxAge < 0 {
		s.MaxAge = 0
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
