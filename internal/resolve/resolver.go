// Package resolve turns raw request paths into canonical cache keys and
// filesystem candidates under a site root. It owns the security rules of the
// static server: prefix matching, percent-decoding before traversal checks,
// root escape rejection and the hidden-file policy.
package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrRejected 表示路径不归本站点处理，调用方应 fallthrough 而不是返回错误。
var ErrRejected = errors.New("path rejected")

// Resolution 是一次成功解析的结果。
type Resolution struct {
	// Key 是规范化后的缓存键：以 / 开头、已解码、已剥离前缀。
	Key string
	// FilePath 是 Key 对应的绝对文件系统路径，仅在缓存未命中时使用。
	FilePath string
}

// Resolver 绑定站点根目录与 URL 前缀，无内部可变状态，可并发使用。
type Resolver struct {
	root   string
	prefix string
}

// NewResolver 创建解析器；prefix 为空表示不限制前缀。
func NewResolver(root, prefix string) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("root directory required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Resolver{
		root:   filepath.Clean(abs),
		prefix: NormalizePrefix(prefix),
	}, nil
}

// NormalizePrefix 将前缀规范为 /xxx/ 形式，空串与 / 视为无前缀。
func NormalizePrefix(prefix string) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed + "/"
}

// Root 返回站点根目录的绝对路径。
func (r *Resolver) Root() string {
	return r.root
}

// Prefix 返回规范化后的前缀。
func (r *Resolver) Prefix() string {
	return r.prefix
}

// Match 仅判断请求是否落在前缀之内，不做完整解析，OPTIONS 短路使用。
func (r *Resolver) Match(raw string) bool {
	_, ok := r.stripPrefix(decode(stripQuery(raw)))
	return ok
}

// Resolve 按 解码 → 前缀 → 越界检查 → 规范化 → 隐藏文件 的顺序解析请求路径。
// 解码必须发生在越界检查之前，否则 %2E%2E 可以绕过检查。
func (r *Resolver) Resolve(raw string) (Resolution, error) {
	decoded := decode(stripQuery(raw))
	if strings.IndexByte(decoded, 0) >= 0 {
		return Resolution{}, fmt.Errorf("%w: nul byte", ErrRejected)
	}
	decoded = strings.ReplaceAll(decoded, "\\", "/")

	rest, ok := r.stripPrefix(decoded)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: prefix mismatch", ErrRejected)
	}
	if escapesRoot(rest) {
		return Resolution{}, fmt.Errorf("%w: traversal", ErrRejected)
	}
	// 尾部斜杠表示目录，不能因 Clean 去掉斜杠而命中同名文件。
	if strings.HasSuffix(rest, "/") {
		return Resolution{}, fmt.Errorf("%w: directory", ErrRejected)
	}

	key := path.Clean("/" + rest)
	if key == "/" {
		return Resolution{}, fmt.Errorf("%w: directory", ErrRejected)
	}
	if IsHidden(key) {
		return Resolution{}, fmt.Errorf("%w: hidden", ErrRejected)
	}

	filePath, err := r.FilePath(key)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Key: key, FilePath: filePath}, nil
}

// FilePath 将规范键映射到根目录下的绝对路径，并再次确认没有越出根目录。
func (r *Resolver) FilePath(key string) (string, error) {
	filePath := filepath.Join(r.root, filepath.FromSlash(path.Clean("/"+key)))
	if filePath != r.root && !strings.HasPrefix(filePath, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: outside root", ErrRejected)
	}
	return filePath, nil
}

// IsHidden 判断规范键中是否存在以 . 开头的路径段。
func IsHidden(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

func (r *Resolver) stripPrefix(decoded string) (string, bool) {
	if r.prefix == "" {
		return decoded, true
	}
	if decoded+"/" == r.prefix {
		return "", true
	}
	if !strings.HasPrefix(decoded, r.prefix) {
		return "", false
	}
	return decoded[len(r.prefix)-1:], true
}

// escapesRoot 逐段模拟目录深度，任何一步低于根目录即视为越界。
func escapesRoot(p string) bool {
	depth := 0
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// decode 解码失败时退回原始文本，而不是让请求失败。
func decode(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func stripQuery(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
