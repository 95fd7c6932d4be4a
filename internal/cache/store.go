package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/static-hub/internal/logging"
	"github.com/any-hub/static-hub/internal/resolve"
)

// ErrNotFound 表示路径没有对应的可服务文件（不存在、目录、隐藏文件或读取失败）。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidRoot 表示站点根目录不可用，属于启动期配置错误。
var ErrInvalidRoot = errors.New("invalid root directory")

const defaultWorkers = 8

// Options 控制 Store 的加载策略。
type Options struct {
	// Root 为站点根目录，必须是已存在的目录。
	Root string
	// Preload 在构造时递归遍历 Root 并加载所有文件。
	Preload bool
	// Dynamic 允许请求未见过的路径时按需加载。
	Dynamic bool
	// Buffer 将正文常驻内存；否则每次从磁盘流式读取。
	Buffer bool
	// MaxEntries > 0 时启用 LRU 淘汰，仅在 Dynamic 下有效。
	MaxEntries   int
	MaxAge       int
	CacheControl string
	// Aliases 为 别名键 → 目标键 的映射，键均为规范形式。
	Aliases map[string]string
	// Filter 只在预加载时生效，参数为相对根目录的 / 分隔路径。
	Filter  func(rel string) bool
	Digest  Digester
	Workers int
	Logger  *logrus.Logger
}

// EntryInfo 是诊断接口使用的条目快照。
type EntryInfo struct {
	Key        string    `json:"key"`
	Length     int64     `json:"length"`
	ModTime    time.Time `json:"mod_time"`
	ETag       string    `json:"etag,omitempty"`
	Buffered   bool      `json:"buffered"`
	Compressed bool      `json:"compressed"`
	MaxAge     int       `json:"max_age"`
}

// Store 持有单个站点的 key → Record 映射。
//
// 并发加载同一路径时允许重复加载，后写入者生效；Record 字段均为整体替换，
// 读请求可能看到旧值但不会看到写了一半的值。
type Store struct {
	opts    Options
	digest  Digester
	logger  *logrus.Logger
	entries table

	ctx     context.Context
	cancel  context.CancelFunc
	rehash  singleflight.Group
	pending sync.WaitGroup
}

// NewStore 校验根目录并按配置完成预加载与别名绑定。ctx 只约束构造阶段；
// 后台重算摘要使用 Store 自己的生命周期，由 Close 结束。
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidRoot)
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}
	opts.Root = root

	if opts.MaxEntries > 0 && !opts.Dynamic {
		return nil, errors.New("max entries requires dynamic mode")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Digest == (Digester{}) {
		opts.Digest = DefaultDigester
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	s := &Store{
		opts:   opts,
		digest: opts.Digest,
		logger: opts.Logger,
	}
	if opts.MaxEntries > 0 {
		s.entries, err = newLRUTable(opts.MaxEntries, opts.Logger)
		if err != nil {
			return nil, err
		}
	} else {
		s.entries = newMapTable()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if opts.Preload {
		if err := s.preload(ctx); err != nil {
			s.cancel()
			return nil, err
		}
		s.bindAliases(ctx)
	}
	return s, nil
}

// bindAliases 在预加载后把别名指向目标记录，目标尚未加载时强制加载。
func (s *Store) bindAliases(ctx context.Context) {
	for from, to := range s.opts.Aliases {
		rec, err := s.LoadIfMissing(ctx, to, s.filePath(to))
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"action": "cache_alias",
				"from":   from,
				"to":     to,
				"error":  err.Error(),
			}).Warn("alias_target_missing")
			continue
		}
		s.entries.Set(from, rec)
	}
}

// Get 返回已缓存的记录；未缓冲的记录会重新 stat 以发现磁盘变更。
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	rec, ok := s.entries.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.refresh(ctx, key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LoadIfMissing 在 key 未缓存时从 candidate 加载并插入。
// 加载失败一律转换为 ErrNotFound，上下文取消除外。
func (s *Store) LoadIfMissing(ctx context.Context, key, candidate string) (*Record, error) {
	if rec, ok := s.entries.Get(key); ok {
		return rec, nil
	}
	rec, err := s.loadRecord(ctx, candidate)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	s.entries.Set(key, rec)
	return rec, nil
}

// Lookup 是请求路径上的入口：命中则刷新，别名按需绑定，动态模式下加载未见过的路径。
// 第二个返回值表示是否命中已有条目。
func (s *Store) Lookup(ctx context.Context, res resolve.Resolution) (*Record, bool, error) {
	if rec, ok := s.entries.Get(res.Key); ok {
		if err := s.refresh(ctx, res.Key, rec); err != nil {
			return nil, true, err
		}
		return rec, true, nil
	}
	if !s.opts.Dynamic {
		return nil, false, ErrNotFound
	}
	if target, ok := s.opts.Aliases[res.Key]; ok {
		rec, _, err := s.Lookup(ctx, resolve.Resolution{Key: target, FilePath: s.filePath(target)})
		if err != nil {
			return nil, false, err
		}
		s.entries.Set(res.Key, rec)
		return rec, false, nil
	}
	rec, err := s.LoadIfMissing(ctx, res.Key, res.FilePath)
	return rec, false, err
}

// Reload 从磁盘重新读取单个记录，缓冲正文随之替换，gzip 结果随之失效。
func (s *Store) Reload(ctx context.Context, key string) (*Record, error) {
	rec, ok := s.entries.Peek(key)
	if !ok {
		return nil, ErrNotFound
	}
	info, err := os.Stat(rec.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", rec.Path, err)
	}
	buffered := rec.Buffered()
	etag, data, length, err := s.digestFile(ctx, rec.Path, buffered)
	if err != nil {
		return nil, err
	}
	rec.setMeta(Meta{ModTime: info.ModTime(), Length: length, ETag: etag})
	if buffered {
		rec.setContent(data)
	}
	s.logger.WithFields(logrus.Fields{
		"action": "cache_reload",
		"key":    key,
		"length": length,
	}).Info("record_reloaded")
	return rec, nil
}

// refresh 只处理未缓冲记录：mtime 前进时更新长度与时间并清空 ETag，随后后台重算。
// 缓冲记录视为静态内容，只能通过 Reload 刷新。
func (s *Store) refresh(_ context.Context, key string, rec *Record) error {
	if rec.Buffered() {
		return nil
	}
	info, err := os.Stat(rec.Path)
	if err != nil || !info.Mode().IsRegular() {
		return ErrNotFound
	}
	meta := rec.Meta()
	if info.ModTime().After(meta.ModTime) {
		rec.setMeta(Meta{ModTime: info.ModTime(), Length: info.Size()})
		s.logger.WithFields(logrus.Fields{
			"action": "cache_refresh",
			"key":    key,
		}).Debug("record_stale")
		s.scheduleRehash(key, rec)
		return nil
	}
	if meta.ETag == "" {
		s.scheduleRehash(key, rec)
	}
	return nil
}

// scheduleRehash 在后台重算摘要，同一文件的并发请求只触发一次计算，请求本身不等待。
func (s *Store) scheduleRehash(key string, rec *Record) {
	if s.ctx.Err() != nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_, err, _ := s.rehash.Do(rec.Path, func() (any, error) {
			return nil, s.rehashRecord(rec)
		})
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"action": "cache_rehash",
				"key":    key,
				"error":  err.Error(),
			}).Warn("rehash_failed")
		}
	}()
}

// rehashRecord 以开始时的元数据快照做 CAS 提交；文件在计算期间再次变化则放弃，
// 留给下一次请求重新调度。
func (s *Store) rehashRecord(rec *Record) error {
	snapshot := rec.meta.Load()
	if snapshot.ETag != "" {
		return nil
	}
	etag, _, length, err := s.digestFile(s.ctx, rec.Path, false)
	if err != nil {
		return err
	}
	info, err := os.Stat(rec.Path)
	if err != nil {
		return err
	}
	if !info.ModTime().Equal(snapshot.ModTime) || info.Size() != length || length != snapshot.Length {
		return nil
	}
	next := *snapshot
	next.ETag = etag
	rec.meta.CompareAndSwap(snapshot, &next)
	return nil
}

// Wait 阻塞直到所有后台摘要计算结束。
func (s *Store) Wait() {
	s.pending.Wait()
}

// Close 取消后台任务并等待其退出。
func (s *Store) Close() {
	s.cancel()
	s.pending.Wait()
}

// Len 返回当前条目数（别名单独计数）。
func (s *Store) Len() int {
	return s.entries.Len()
}

// Keys 返回排序后的全部键。
func (s *Store) Keys() []string {
	return s.entries.Keys()
}

// Contains 判断 key 是否已缓存，不影响 LRU 顺序。
func (s *Store) Contains(key string) bool {
	_, ok := s.entries.Peek(key)
	return ok
}

// Sibling 取预压缩的 .gz 兄弟文件：已缓存则直接返回，不刷新、不影响 LRU 顺序；
// 动态缓冲模式下未缓存时临时读入内存，不插入缓存表，避免挤出主文件。
func (s *Store) Sibling(ctx context.Context, key string) (*Record, error) {
	if rec, ok := s.entries.Peek(key); ok {
		return rec, nil
	}
	if !s.opts.Dynamic || !s.opts.Buffer {
		return nil, ErrNotFound
	}
	return s.readDetached(ctx, s.filePath(key))
}

// Capacity 返回 LRU 容量，0 表示无界。
func (s *Store) Capacity() int {
	return s.opts.MaxEntries
}

// Root 返回根目录绝对路径。
func (s *Store) Root() string {
	return s.opts.Root
}

// Digester 返回 ETag 计算方式，响应层据此判断能否输出 Content-MD5。
func (s *Store) Digester() Digester {
	return s.digest
}

// Snapshot 返回所有条目的元数据快照。
func (s *Store) Snapshot() []EntryInfo {
	keys := s.entries.Keys()
	infos := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		rec, ok := s.entries.Peek(key)
		if !ok {
			continue
		}
		meta := rec.Meta()
		_, gz := rec.Compressed()
		infos = append(infos, EntryInfo{
			Key:        key,
			Length:     meta.Length,
			ModTime:    meta.ModTime,
			ETag:       meta.ETag,
			Buffered:   rec.Buffered(),
			Compressed: gz,
			MaxAge:     rec.MaxAge(),
		})
	}
	return infos
}

func (s *Store) filePath(key string) string {
	return filepath.Join(s.opts.Root, filepath.FromSlash(path.Clean("/"+key)))
}
