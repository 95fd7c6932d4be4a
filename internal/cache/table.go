package cache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// table 是 key → Record 的映射，预加载模式无界，动态有界模式委托给 LRU。
type table interface {
	// Get 查找条目；LRU 实现会把它记为一次使用。
	Get(key string) (*Record, bool)
	// Peek 查找条目但不影响淘汰顺序。
	Peek(key string) (*Record, bool)
	Set(key string, rec *Record)
	Remove(key string)
	Len() int
	Keys() []string
}

type mapTable struct {
	mu    sync.RWMutex
	items map[string]*Record
}

func newMapTable() *mapTable {
	return &mapTable{items: make(map[string]*Record)}
}

func (t *mapTable) Get(key string) (*Record, bool) {
	return t.Peek(key)
}

func (t *mapTable) Peek(key string) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.items[key]
	return rec, ok
}

func (t *mapTable) Set(key string, rec *Record) {
	t.mu.Lock()
	t.items[key] = rec
	t.mu.Unlock()
}

func (t *mapTable) Remove(key string) {
	t.mu.Lock()
	delete(t.items, key)
	t.mu.Unlock()
}

func (t *mapTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func (t *mapTable) Keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.items))
	for key := range t.items {
		keys = append(keys, key)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// lruTable 的并发安全由 golang-lru 内部锁保证；淘汰只移除映射，不释放额外资源。
type lruTable struct {
	cache *lru.Cache[string, *Record]
}

func newLRUTable(size int, logger *logrus.Logger) (*lruTable, error) {
	cache, err := lru.NewWithEvict[string, *Record](size, func(key string, rec *Record) {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action": "cache_evict",
				"key":    key,
			}).Debug("lru_evicted")
		}
	})
	if err != nil {
		return nil, err
	}
	return &lruTable{cache: cache}, nil
}

func (t *lruTable) Get(key string) (*Record, bool) {
	return t.cache.Get(key)
}

func (t *lruTable) Peek(key string) (*Record, bool) {
	return t.cache.Peek(key)
}

func (t *lruTable) Set(key string, rec *Record) {
	t.cache.Add(key, rec)
}

func (t *lruTable) Remove(key string) {
	t.cache.Remove(key)
}

func (t *lruTable) Len() int {
	return t.cache.Len()
}

func (t *lruTable) Keys() []string {
	keys := t.cache.Keys()
	sort.Strings(keys)
	return keys
}
