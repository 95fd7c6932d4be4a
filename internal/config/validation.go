package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var supportedETagHashes = map[string]struct{}{
	"md5":    {},
	"sha1":   {},
	"sha256": {},
}

var supportedETagEncodings = map[string]struct{}{
	"base64": {},
	"hex":    {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.PreloadWorkers < 0 {
		return newFieldError("Global.PreloadWorkers", "不能为负数")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateRoot(site.Root); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Root"), err)
		}
		if site.Domain != "" {
			if err := validateDomain(site.Domain); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
			}
		}
		if site.Prefix != "" && !strings.HasPrefix(site.Prefix, "/") {
			return newFieldError(siteField(site.Name, "Prefix"), "必须以 / 开头")
		}
		if site.MaxCacheEntries < 0 {
			return newFieldError(siteField(site.Name, "MaxCacheEntries"), "不能为负数")
		}
		if site.MaxCacheEntries > 0 && !site.Dynamic {
			return newFieldError(siteField(site.Name, "MaxCacheEntries"), "仅在 Dynamic 模式下生效")
		}
		if _, ok := supportedETagHashes[site.ETagHash]; !ok {
			return newFieldError(siteField(site.Name, "ETagHash"), "仅支持 md5/sha1/sha256")
		}
		if _, ok := supportedETagEncodings[site.ETagEncoding]; !ok {
			return newFieldError(siteField(site.Name, "ETagEncoding"), "仅支持 base64/hex")
		}
		for _, name := range site.Filter {
			if strings.TrimSpace(name) == "" {
				return newFieldError(siteField(site.Name, "Filter"), "不能包含空路径")
			}
		}
		for _, alias := range site.Aliases {
			if !strings.HasPrefix(alias.From, "/") || !strings.HasPrefix(alias.To, "/") {
				return newFieldError(siteField(site.Name, "Alias"), "From/To 必须以 / 开头")
			}
			if alias.From == alias.To {
				return newFieldError(siteField(site.Name, "Alias"), "From 与 To 不能相同")
			}
		}
	}

	return nil
}

// validateRoot 对应 ConfigurationError：根目录必须存在且为目录。
func validateRoot(root string) error {
	if root == "" {
		return errors.New("Root 不能为空")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("Root 不可用: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("Root 不是目录: %s", root)
	}
	return nil
}

func validateDomain(domain string) error {
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}
