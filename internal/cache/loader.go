package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// loadRecord 读取单个文件并构建 Record：目录、非常规文件与隐藏文件一律视为 ErrNotFound。
// 摘要对整个文件计算；buffer 为 true 时同时保留正文。
func (s *Store) loadRecord(ctx context.Context, filePath string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return nil, ErrNotFound
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	etag, data, length, err := s.digestFile(ctx, filePath, s.opts.Buffer)
	if err != nil {
		return nil, err
	}

	meta := Meta{
		ModTime: info.ModTime(),
		Length:  length,
		ETag:    etag,
	}
	rec := newRecord(filePath, detectContentType(filePath, data), meta, s.opts.MaxAge, s.opts.CacheControl)
	if s.opts.Buffer {
		rec.setContent(data)
	}
	return rec, nil
}

// readDetached 只读取正文，不计算摘要，返回的记录不进入缓存表。
func (s *Store) readDetached(ctx context.Context, filePath string) (*Record, error) {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return nil, ErrNotFound
	}
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	var buf bytes.Buffer
	buf.Grow(int(info.Size()))
	if _, err := copyWithContext(ctx, &buf, f); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	rec := newRecord(filePath, detectContentType(filePath, data), Meta{ModTime: info.ModTime(), Length: int64(len(data))}, s.opts.MaxAge, s.opts.CacheControl)
	rec.setContent(data)
	return rec, nil
}

// digestFile 流式计算摘要；keep 为 true 时返回完整正文。
func (s *Store) digestFile(ctx context.Context, filePath string, keep bool) (string, []byte, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, 0, ErrNotFound
		}
		return "", nil, 0, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	hasher := s.digest.newHash()
	var (
		dst io.Writer = hasher
		buf bytes.Buffer
	)
	if keep {
		dst = io.MultiWriter(hasher, &buf)
	}

	length, err := copyWithContext(ctx, dst, f)
	if err != nil {
		return "", nil, 0, fmt.Errorf("read %s: %w", filePath, err)
	}

	var data []byte
	if keep {
		data = buf.Bytes()
		if data == nil {
			data = []byte{}
		}
	}
	return s.digest.etag(hasher.Sum(nil)), data, length, nil
}

// detectContentType 优先按扩展名查表，无扩展名或未知扩展名时嗅探内容。
func detectContentType(filePath string, data []byte) string {
	if ext := filepath.Ext(filePath); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	var (
		detected *mimetype.MIME
		err      error
	)
	if data != nil {
		detected = mimetype.Detect(data)
	} else {
		detected, err = mimetype.DetectFile(filePath)
	}
	if err != nil || detected == nil {
		return defaultContentType
	}
	return detected.String()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

// AllowList 把配置中的相对路径白名单转换为预加载过滤函数。
func AllowList(names []string) func(rel string) bool {
	if len(names) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(strings.TrimSpace(name))), "/")
		allowed[clean] = struct{}{}
	}
	return func(rel string) bool {
		_, ok := allowed[rel]
		return ok
	}
}
