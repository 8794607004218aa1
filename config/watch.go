package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"signal-executor/signal"
)

// Watcher 监听配置文件，变更后重新加载并回调。
// 监听的是所在目录，编辑器先写临时文件再 rename 的保存方式也能触发。
type Watcher struct {
	path     string
	cooldown time.Duration
	onUpdate func(AppConfig)
	logger   *zap.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu         sync.Mutex
	lastReload time.Time
	now        func() time.Time
}

// NewWatcher 创建配置监听器。cooldown 内的重复事件只处理一次。
func NewWatcher(path string, cooldown time.Duration, logger *zap.Logger, onUpdate func(AppConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		cooldown: cooldown,
		onUpdate: onUpdate,
		logger:   logger,
		fsw:      fsw,
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start 开始监听，ctx 结束或 Stop 后退出。
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go w.loop(ctx)
	return nil
}

// Stop 关闭底层 watcher 并等待监听协程退出。
func (w *Watcher) Stop() error {
	err := w.fsw.Close()
	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			// 只处理写入和创建事件
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.allow() {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected, keeping previous values", zap.Error(err))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if !w.lastReload.IsZero() && now.Sub(w.lastReload) < w.cooldown {
		return false
	}
	w.lastReload = now
	return true
}

// Reload 重新读取配置文件，校验失败时不回调。
func (w *Watcher) Reload() error {
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		return err
	}
	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.String("position_size", cfg.Risk.PositionSize.String()),
		zap.Int("max_open_positions", cfg.Risk.MaxOpenPositions),
	)
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	return nil
}

// RiskDefaults 信号未携带风险参数时使用的默认值。
func (r RiskConfig) RiskDefaults() signal.RiskParams {
	return signal.RiskParams{
		PositionSize:     r.PositionSize.Decimal,
		MaxOpenPositions: r.MaxOpenPositions,
	}
}
