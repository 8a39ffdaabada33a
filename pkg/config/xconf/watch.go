package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce 编辑器保存通常产生多个事件，合并为一次重载
const defaultDebounce = 100 * time.Millisecond

// WatchCallback 重载后的回调，err 非 nil 表示重载失败（旧配置仍然有效）
type WatchCallback func(cfg Config, err error)

// WatchOption 监视器选项
type WatchOption func(*Watcher)

// WithDebounce 设置防抖时间
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher 配置文件监视器
//
// 监视文件所在目录而非文件本身：vim/emacs 以及 K8s ConfigMap 都通过
// rename 原子替换文件，直接监视文件会在第一次替换后丢失后续事件。
type Watcher struct {
	cfg      *koanfConfig
	fs       *fsnotify.Watcher
	callback WatchCallback
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	wg     sync.WaitGroup
}

// Watch 创建监视器，调用 Run 开始监视
//
// 示例:
//
//	w, err := xconf.Watch(cfg, func(c xconf.Config, err error) { ... })
//	if err != nil {
//	    return err
//	}
//	group.Go(w.Run)
func Watch(cfg Config, callback WatchCallback, opts ...WatchOption) (*Watcher, error) {
	kc, ok := cfg.(*koanfConfig)
	if !ok {
		return nil, errors.New("xconf: unsupported config type")
	}
	if kc.path == "" {
		return nil, ErrNotWatchable
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}
	dir := filepath.Dir(kc.path)
	if err := fs.Add(dir); err != nil {
		return nil, errors.Join(fmt.Errorf("xconf: watch directory %s: %w", dir, err), fs.Close())
	}

	w := &Watcher{
		cfg:      kc,
		fs:       fs,
		callback: callback,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run 阻塞处理文件事件，直到 ctx 取消或 Close 被调用
// ctx 取消时返回 nil，便于直接交给 errgroup 管理
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close() //nolint:errcheck // 退出路径

	name := filepath.Base(w.cfg.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			// Write 直接修改；Create/Rename 对应原子替换
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.notify(fmt.Errorf("xconf: watch error: %w", err))
		}
	}
}

// schedule 重置防抖定时器
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		w.notify(w.cfg.Reload())
	})
}

func (w *Watcher) notify(err error) {
	if w.callback != nil {
		w.callback(w.cfg, err)
	}
}

// Close 停止监视，返回后不再有回调执行
// 不能在回调内部调用
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}
