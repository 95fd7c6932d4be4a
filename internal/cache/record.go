package cache

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Meta 是 Record 的可变元数据快照，整体替换，不做字段级原地修改。
type Meta struct {
	ModTime time.Time
	Length  int64
	// ETag 为带引号的摘要；空串表示未知（文件变更后等待后台重算）。
	ETag string
}

type policy struct {
	maxAge       int
	cacheControl string
}

type buffer struct {
	data []byte
}

// compressed 记录 gzip 结果及其来源缓冲，来源被替换后自动失效。
type compressed struct {
	source []byte
	data   []byte
	failed bool
}

// Record 是单个路径的缓存条目。Path 与 ContentType 在加载后不可变。
type Record struct {
	Path        string
	ContentType string

	meta       atomic.Pointer[Meta]
	content    atomic.Pointer[buffer]
	compressed atomic.Pointer[compressed]
	policy     atomic.Pointer[policy]
}

func newRecord(path, contentType string, meta Meta, maxAge int, cacheControl string) *Record {
	rec := &Record{Path: path, ContentType: contentType}
	rec.meta.Store(&meta)
	rec.policy.Store(&policy{maxAge: maxAge, cacheControl: cacheControl})
	return rec
}

// Meta 返回当前元数据的副本。
func (r *Record) Meta() Meta {
	return *r.meta.Load()
}

// Buffered 表示正文是否常驻内存。
func (r *Record) Buffered() bool {
	return r.content.Load() != nil
}

// Content 返回常驻内存的正文；未缓冲时返回 nil。
func (r *Record) Content() []byte {
	if b := r.content.Load(); b != nil {
		return b.data
	}
	return nil
}

// Compressed 返回与当前正文匹配的 gzip 结果。
func (r *Record) Compressed() ([]byte, bool) {
	c := r.compressed.Load()
	if c == nil || c.failed || !sameBuffer(c.source, r.Content()) {
		return nil, false
	}
	return c.data, true
}

// CompressionFailed 表示针对当前正文的压缩已经失败过，不再重试。
func (r *Record) CompressionFailed() bool {
	c := r.compressed.Load()
	return c != nil && c.failed && sameBuffer(c.source, r.Content())
}

// StoreCompressed 记忆 source 对应的 gzip 结果；source 已不是当前正文时放弃。
func (r *Record) StoreCompressed(source, data []byte) bool {
	if !sameBuffer(source, r.Content()) {
		return false
	}
	r.compressed.Store(&compressed{source: source, data: data})
	return true
}

// MarkCompressionFailed 记录压缩失败，后续请求直接降级为原文。
func (r *Record) MarkCompressionFailed(source []byte) {
	if !sameBuffer(source, r.Content()) {
		return
	}
	r.compressed.Store(&compressed{source: source, failed: true})
}

// MaxAge 返回当前生效的 max-age 秒数。
func (r *Record) MaxAge() int {
	return r.policy.Load().maxAge
}

// SetMaxAge 运行时调整单个文件的 max-age，无需重新加载。
func (r *Record) SetMaxAge(seconds int) {
	for {
		old := r.policy.Load()
		next := &policy{maxAge: seconds, cacheControl: old.cacheControl}
		if r.policy.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetCacheControl 设置覆盖用的 Cache-Control，空串恢复为 max-age 形式。
func (r *Record) SetCacheControl(value string) {
	for {
		old := r.policy.Load()
		next := &policy{maxAge: old.maxAge, cacheControl: value}
		if r.policy.CompareAndSwap(old, next) {
			return
		}
	}
}

// CacheControl 返回应写入响应的 Cache-Control 值。
func (r *Record) CacheControl() string {
	p := r.policy.Load()
	if p.cacheControl != "" {
		return p.cacheControl
	}
	return fmt.Sprintf("public, max-age=%d", p.maxAge)
}

func (r *Record) setMeta(meta Meta) {
	r.meta.Store(&meta)
}

// setContent 替换正文；旧的 gzip 结果因来源不同而失效。
func (r *Record) setContent(data []byte) {
	if data == nil {
		r.content.Store(nil)
	} else {
		r.content.Store(&buffer{data: data})
	}
	r.compressed.Store(nil)
}

func sameBuffer(a, b []byte) bool {
	if a == nil || b == nil || len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
