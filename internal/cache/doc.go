// Package cache holds the in-memory file table of a static site. Each entry is
// a Record carrying metadata (modtime, length, ETag), an optional buffered copy
// of the content and an optional memoized gzip variant. The Store populates the
// table either eagerly by walking the site root at startup or lazily on the
// first request for an unseen path, optionally bounded by an LRU. Records are
// shared across requests and mutated with whole-value replacement so readers
// never observe half-written fields; concurrent first loads of the same path
// may race and the last insert wins.
package cache
