// Package compress selects the response body for a cached record: buffered
// bytes, a disk stream, or a gzip variant. Buffered gzip results are memoized
// on the record; streamed records are compressed on the fly.
package compress

import (
	"bytes"
	"io"
	"mime"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/logging"
)

// DefaultMinLength 小于等于该长度的正文不压缩。
const DefaultMinLength = 1024

// Kind 标识正文来源。
type Kind int

const (
	// Buffered 表示内存中的原文。
	Buffered Kind = iota
	// Streamed 表示从磁盘读取，可能经过实时 gzip。
	Streamed
	// CompressedBuffered 表示内存中的 gzip 结果（记忆化或预压缩文件）。
	CompressedBuffered
)

func (k Kind) String() string {
	switch k {
	case Buffered:
		return "buffered"
	case Streamed:
		return "streamed"
	case CompressedBuffered:
		return "compressed_buffered"
	default:
		return "unknown"
	}
}

// Body 是响应正文的标签联合体，按 Kind 决定使用 Bytes 还是 Open。
type Body struct {
	Kind Kind
	// Bytes 仅在 Buffered / CompressedBuffered 时有效。
	Bytes []byte
	// Encoding 为 "gzip" 或空串。
	Encoding string
	// Length 为响应长度，-1 表示未知（实时 gzip）。
	Length int64

	open func() (io.ReadCloser, error)
}

// Open 打开流式正文；调用方负责 Close，Close 会释放底层文件句柄。
func (b Body) Open() (io.ReadCloser, error) {
	if b.open == nil {
		return io.NopCloser(bytes.NewReader(b.Bytes)), nil
	}
	return b.open()
}

// Options 控制压缩门槛。
type Options struct {
	Enabled           bool
	MinLength         int64
	PreferPrecompiled bool
	Level             int
	Logger            *logrus.Logger
}

// Compressor 无内部可变状态，记忆化结果保存在 Record 上。
type Compressor struct {
	opts Options
}

// NewCompressor 填充默认值。
func NewCompressor(opts Options) *Compressor {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Level == 0 {
		opts.Level = gzip.DefaultCompression
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Compressor{opts: opts}
}

// Enabled 表示站点是否开启 gzip，决定是否输出 Vary 头。
func (c *Compressor) Enabled() bool {
	return c.opts.Enabled
}

// PreferPrecompiled 表示是否需要查找 .gz 兄弟文件。
func (c *Compressor) PreferPrecompiled() bool {
	return c.opts.Enabled && c.opts.PreferPrecompiled
}

// SiblingFunc 返回同路径加 .gz 的预压缩记录，没有时返回 nil。
type SiblingFunc func() *cache.Record

// BodyFor 为记录选择正文。sibling 只在记录满足压缩条件且开启预压缩优先时调用，可为 nil。
// 压缩失败不会返回错误，而是记忆失败并退回原文。
func (c *Compressor) BodyFor(rec *cache.Record, acceptsGzip bool, sibling SiblingFunc) Body {
	if c.opts.Enabled && acceptsGzip {
		if data, ok := rec.Compressed(); ok {
			return compressedBody(data)
		}
	}

	meta := rec.Meta()
	if !c.eligible(rec, meta.Length, acceptsGzip) {
		return plainBody(rec, meta.Length)
	}

	if c.opts.PreferPrecompiled && sibling != nil {
		if gz := sibling(); gz != nil && gz.Buffered() {
			return compressedBody(gz.Content())
		}
	}

	if !rec.Buffered() {
		return gzipStreamBody(rec.Path, c.opts.Level)
	}
	if rec.CompressionFailed() {
		return plainBody(rec, meta.Length)
	}

	source := rec.Content()
	data, err := gzipBytes(source, c.opts.Level)
	if err != nil {
		rec.MarkCompressionFailed(source)
		c.opts.Logger.WithFields(logrus.Fields{
			"action": "compress",
			"path":   rec.Path,
			"error":  err.Error(),
		}).Warn("gzip_failed")
		return plainBody(rec, meta.Length)
	}
	rec.StoreCompressed(source, data)
	return compressedBody(data)
}

func (c *Compressor) eligible(rec *cache.Record, length int64, acceptsGzip bool) bool {
	return c.opts.Enabled &&
		acceptsGzip &&
		length > c.opts.MinLength &&
		Compressible(rec.ContentType)
}

func plainBody(rec *cache.Record, length int64) Body {
	if rec.Buffered() {
		data := rec.Content()
		return Body{Kind: Buffered, Bytes: data, Length: int64(len(data))}
	}
	filePath := rec.Path
	return Body{
		Kind:   Streamed,
		Length: length,
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(filePath)
			if err != nil {
				return nil, err
			}
			return &readCloser{Reader: io.LimitReader(f, length), closer: f}, nil
		},
	}
}

func compressedBody(data []byte) Body {
	return Body{Kind: CompressedBuffered, Bytes: data, Encoding: "gzip", Length: int64(len(data))}
}

func gzipStreamBody(filePath string, level int) Body {
	return Body{
		Kind:     Streamed,
		Encoding: "gzip",
		Length:   -1,
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(filePath)
			if err != nil {
				return nil, err
			}
			return gzipStream(f, level), nil
		},
	}
}

// gzipStream 通过管道实时压缩；读端关闭后写端报错，协程随即退出并关闭文件。
func gzipStream(f *os.File, level int) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		zw, err := gzip.NewWriterLevel(pw, level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_, err = io.Copy(zw, f)
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	return pr
}

func gzipBytes(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error {
	return r.closer.Close()
}

// AcceptsGzip 解析 Accept-Encoding，q=0 表示明确拒绝。
func AcceptsGzip(header string) bool {
	wildcard := false
	for _, part := range strings.Split(header, ",") {
		token, q := parseCoding(part)
		switch token {
		case "gzip":
			return q > 0
		case "*":
			wildcard = q > 0
		}
	}
	return wildcard
}

func parseCoding(part string) (string, float64) {
	fields := strings.Split(part, ";")
	token := strings.ToLower(strings.TrimSpace(fields[0]))
	q := 1.0
	for _, param := range fields[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(strings.TrimSpace(key)) != "q" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			q = parsed
		}
	}
	return token, q
}

var compressibleTypes = map[string]struct{}{
	"application/javascript":        {},
	"application/x-javascript":      {},
	"application/ecmascript":        {},
	"application/json":              {},
	"application/manifest+json":     {},
	"application/xml":               {},
	"application/xhtml+xml":         {},
	"application/wasm":              {},
	"application/x-font-ttf":        {},
	"application/vnd.ms-fontobject": {},
	"application/x-sh":              {},
	"application/x-tar":             {},
	"font/ttf":                      {},
	"font/otf":                      {},
	"image/bmp":                     {},
	"image/x-icon":                  {},
	"image/vnd.microsoft.icon":      {},
}

// Compressible 按 MIME 类别判断是否值得压缩；已压缩格式（图片、woff、zip 等）返回 false。
func Compressible(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	if mediaType == "" {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	if strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml") {
		return true
	}
	_, ok := compressibleTypes[mediaType]
	return ok
}
