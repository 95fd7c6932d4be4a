// Package freshness decides whether a conditional GET/HEAD can be answered
// with 304 Not Modified from a record's validators.
package freshness

import (
	"net/http"
	"strings"
	"time"
)

// Validators 汇总请求中的条件头，均为可选。
type Validators struct {
	IfNoneMatch     string
	IfModifiedSince string
	CacheControl    string
}

// FromHeaders 通过 header getter 提取条件头，适配 fiber.Ctx.Get 或 http.Header.Get。
func FromHeaders(get func(string) string) Validators {
	return Validators{
		IfNoneMatch:     strings.TrimSpace(get("If-None-Match")),
		IfModifiedSince: strings.TrimSpace(get("If-Modified-Since")),
		CacheControl:    get("Cache-Control"),
	}
}

// Empty 表示请求不是条件请求。
func (v Validators) Empty() bool {
	return v.IfNoneMatch == "" && v.IfModifiedSince == ""
}

// IsFresh 判断客户端缓存是否仍然有效。
// etag 为空表示当前 ETag 未知（后台重算中），此时跳过 If-None-Match 仅比较时间。
// ETag 已知且请求携带 If-None-Match 时以 ETag 比较结果为准，忽略 If-Modified-Since。
func IsFresh(v Validators, etag string, lastModified time.Time) bool {
	if v.Empty() {
		return false
	}
	if hasNoCache(v.CacheControl) {
		return false
	}

	if v.IfNoneMatch != "" {
		if v.IfNoneMatch == "*" {
			return true
		}
		if etag != "" {
			return matchesAny(v.IfNoneMatch, etag)
		}
	}

	if v.IfModifiedSince == "" || lastModified.IsZero() {
		return false
	}
	since, err := http.ParseTime(v.IfModifiedSince)
	if err != nil {
		return false
	}
	// HTTP-date 只有秒级精度
	return !lastModified.Truncate(time.Second).After(since)
}

// matchesAny 使用弱比较：忽略 W/ 前缀。
func matchesAny(header, etag string) bool {
	want := opaque(etag)
	for _, token := range strings.Split(header, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if token == "*" || opaque(token) == want {
			return true
		}
	}
	return false
}

func opaque(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "W/")
}

func hasNoCache(cacheControl string) bool {
	for _, directive := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
			return true
		}
	}
	return false
}
