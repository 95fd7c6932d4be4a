package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// walkTarget 是预加载遍历得到的一个候选文件。
type walkTarget struct {
	key      string
	filePath string
}

// collect 递归遍历根目录：跳过隐藏项，跟随指向目录的符号链接，并用真实路径去重避免环路。
func collect(ctx context.Context, root string, filter func(rel string) bool) ([]walkTarget, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	visited := map[string]struct{}{realRoot: {}}

	var targets []walkTarget
	var walkDir func(dir, rel string) error
	walkDir = func(dir, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir, name)
			childRel := path.Join(rel, name)

			// Stat 跟随符号链接，链接目标的类型决定是目录还是叶子。
			info, err := os.Stat(full)
			if err != nil {
				continue
			}
			if info.IsDir() {
				real, err := filepath.EvalSymlinks(full)
				if err != nil {
					continue
				}
				if _, seen := visited[real]; seen {
					continue
				}
				visited[real] = struct{}{}
				if err := walkDir(full, childRel); err != nil {
					return err
				}
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			if filter != nil && !filter(childRel) {
				continue
			}
			targets = append(targets, walkTarget{key: "/" + childRel, filePath: full})
		}
		return nil
	}

	if err := walkDir(root, ""); err != nil {
		return nil, err
	}
	return targets, nil
}

// preload 并发加载所有候选文件，单个文件失败只记日志并跳过。
func (s *Store) preload(ctx context.Context) error {
	targets, err := collect(ctx, s.opts.Root, s.opts.Filter)
	if err != nil {
		return err
	}

	var failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for _, target := range targets {
		target := target
		group.Go(func() error {
			rec, err := s.loadRecord(groupCtx, target.filePath)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed.Add(1)
				s.logger.WithFields(logrus.Fields{
					"action": "cache_preload",
					"key":    target.key,
					"error":  err.Error(),
				}).Warn("preload_skip")
				return nil
			}
			s.entries.Set(target.key, rec)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"action":  "cache_preload",
		"root":    s.opts.Root,
		"files":   len(targets) - int(failed.Load()),
		"skipped": failed.Load(),
		"workers": s.opts.Workers,
	}).Info("preload_complete")
	return nil
}
