package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
)

// Digester 决定 ETag 使用的哈希算法与编码方式。
type Digester struct {
	algorithm string
	encoding  string
}

// DefaultDigester 使用 md5 + base64，同时满足 Content-MD5 头的格式要求。
var DefaultDigester = Digester{algorithm: "md5", encoding: "base64"}

// NewDigester 校验算法与编码组合，空值取默认的 md5 / base64。
func NewDigester(algorithm, encoding string) (Digester, error) {
	if algorithm == "" {
		algorithm = DefaultDigester.algorithm
	}
	if encoding == "" {
		encoding = DefaultDigester.encoding
	}
	switch algorithm {
	case "md5", "sha1", "sha256":
	default:
		return Digester{}, fmt.Errorf("unsupported etag hash: %s", algorithm)
	}
	switch encoding {
	case "base64", "hex":
	default:
		return Digester{}, fmt.Errorf("unsupported etag encoding: %s", encoding)
	}
	return Digester{algorithm: algorithm, encoding: encoding}, nil
}

func (d Digester) newHash() hash.Hash {
	switch d.algorithm {
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	default:
		return md5.New()
	}
}

func (d Digester) encode(sum []byte) string {
	if d.encoding == "hex" {
		return hex.EncodeToString(sum)
	}
	return base64.StdEncoding.EncodeToString(sum)
}

func (d Digester) etag(sum []byte) string {
	return `"` + d.encode(sum) + `"`
}

// ContentMD5 仅在 md5 + base64 时可以把 ETag 直接用作 Content-MD5。
func (d Digester) ContentMD5(etag string) (string, bool) {
	if d.algorithm != "md5" || d.encoding != "base64" || len(etag) < 2 {
		return "", false
	}
	return etag[1 : len(etag)-1], true
}

func (d Digester) String() string {
	return d.algorithm + "/" + d.encoding
}
