package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler 收到合法的新配置后被调用。
type ReloadHandler func(cfg AppConfig)

// Watcher 基于 fsnotify 的配置热更新器：文件写入后重新加载并
// 校验，校验失败保留旧配置。Cooldown 合并编辑器连续写入。
type Watcher struct {
	path     string
	cooldown time.Duration
	handler  ReloadHandler
	logger   *zap.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	lastLoad time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 创建热更新器；cooldown<=0 时默认 2 秒。
func NewWatcher(path string, cooldown time.Duration, handler ReloadHandler, logger *zap.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("reload handler required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		handler:  handler,
		logger:   logger,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听配置文件所在目录（编辑器常用 rename+create 保存）。
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	go w.loop()
	return nil
}

// Stop 停止监听。
func (w *Watcher) Stop() {
	close(w.stopChan)
	<-w.doneChan
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneChan)
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.tryReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) tryReload() {
	w.mu.Lock()
	if time.Since(w.lastLoad) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastLoad = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 非法的新配置不生效，继续用旧的；让操作员知道这次编辑被拒
		w.logger.Warn("config reload rejected, keeping previous config",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.handler(cfg)
}
