package cache

import "testing"

func TestRecordCachePolicy(t *testing.T) {
	rec := newRecord("/tmp/a", "text/plain", Meta{}, 60, "")
	if got := rec.CacheControl(); got != "public, max-age=60" {
		t.Fatalf("default cache control mismatch: %s", got)
	}

	rec.SetMaxAge(1)
	if got := rec.CacheControl(); got != "public, max-age=1" {
		t.Fatalf("max-age update not applied: %s", got)
	}

	rec.SetCacheControl("no-store")
	if got := rec.CacheControl(); got != "no-store" {
		t.Fatalf("override not applied: %s", got)
	}
	if rec.MaxAge() != 1 {
		t.Fatalf("override must keep max-age, got %d", rec.MaxAge())
	}

	rec.SetCacheControl("")
	if got := rec.CacheControl(); got != "public, max-age=1" {
		t.Fatalf("clearing override should restore max-age form: %s", got)
	}
}

func TestRecordCompressedTracksContent(t *testing.T) {
	rec := newRecord("/tmp/a", "text/plain", Meta{}, 0, "")
	if _, ok := rec.Compressed(); ok {
		t.Fatalf("unbuffered record has no gzip variant")
	}

	first := []byte("first")
	rec.setContent(first)
	if !rec.StoreCompressed(first, []byte("gz1")) {
		t.Fatalf("store compressed for current content should succeed")
	}
	if data, ok := rec.Compressed(); !ok || string(data) != "gz1" {
		t.Fatalf("compressed variant mismatch: %q %v", data, ok)
	}

	rec.setContent([]byte("second"))
	if _, ok := rec.Compressed(); ok {
		t.Fatalf("replacing content must invalidate gzip variant")
	}
	if rec.StoreCompressed(first, []byte("late")) {
		t.Fatalf("gzip of superseded content must be rejected")
	}

	current := rec.Content()
	rec.MarkCompressionFailed(current)
	if !rec.CompressionFailed() {
		t.Fatalf("failure should be memoized")
	}
	if _, ok := rec.Compressed(); ok {
		t.Fatalf("failed compression yields no variant")
	}
}

func TestDigesterValidation(t *testing.T) {
	if _, err := NewDigester("crc32", "hex"); err == nil {
		t.Fatalf("expected unsupported hash error")
	}
	if _, err := NewDigester("md5", "base32"); err == nil {
		t.Fatalf("expected unsupported encoding error")
	}
	md5b64, ok := DefaultDigester.ContentMD5(`"abc=="`)
	if !ok || md5b64 != "abc==" {
		t.Fatalf("content md5 mismatch: %q %v", md5b64, ok)
	}
}
