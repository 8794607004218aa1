package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-executor/config"
	"signal-executor/infrastructure/logger"
	"signal-executor/internal/engine"
	"signal-executor/ledger"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start component %d failed: %w", i, err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	// 逆序停止
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %d unhealthy: %w", i, err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	*h.server = srv

	// 在后台启动服务器
	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, zap.String("component", h.name), zap.String("action", "listen"))
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info("http server stopped", zap.String("component", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// runnerComponent 在后台运行阻塞函数，Stop 时取消并等待退出。
type runnerComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *logger.Logger

	// detached 为 true 时 Stop 只取消不等待，用于阻塞在 stdin 上无法取消的读取
	detached bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (r *runnerComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		err := r.run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.LogError(err, zap.String("component", r.name))
		}
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	return nil
}

func (r *runnerComponent) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	if r.detached {
		return nil
	}
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		return fmt.Errorf("%s did not stop within %s", r.name, shutdownDeadline)
	}
	return nil
}

// Health 已启动的组件返回最近一次退出错误，正常退出的读取器视为健康。
func (r *runnerComponent) Health() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return fmt.Errorf("%s not started", r.name)
	}
	if r.err != nil && !errors.Is(r.err, context.Canceled) {
		return fmt.Errorf("%s: %w", r.name, r.err)
	}
	return nil
}

// exitErr 最近一次退出错误，取消不算错误
func (r *runnerComponent) exitErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(r.err, context.Canceled) {
		return nil
	}
	return r.err
}

// runRecordComponent 启动时登记 BotRun，停止时写入结束状态。
// 需要最先注册，这样逆序停止时协调器已经退出。
type runRecordComponent struct {
	store  *ledger.Store
	coord  *engine.Coordinator
	mode   string
	env    string
	exit   func() error
	logger *logger.Logger

	mu  sync.Mutex
	run *ledger.BotRun
}

func (r *runRecordComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return nil
	}
	run := &ledger.BotRun{Mode: r.mode, Env: r.env}
	if err := r.store.StartRun(ctx, run); err != nil {
		return err
	}
	r.run = run
	r.coord.SetRunID(run.ID)
	r.logger.Info("bot run started",
		zap.Uint("run_id", run.ID),
		zap.String("run_key", run.RunKey),
		zap.String("mode", run.Mode),
	)
	return nil
}

func (r *runRecordComponent) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return nil
	}
	status, reason := ledger.RunStopped, ""
	if r.exit != nil {
		if err := r.exit(); err != nil {
			status, reason = ledger.RunError, err.Error()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	err := r.store.EndRun(ctx, r.run.ID, status, reason)
	if err != nil {
		return fmt.Errorf("end run %d: %w", r.run.ID, err)
	}
	r.logger.Info("bot run ended",
		zap.Uint("run_id", r.run.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	r.run = nil
	return nil
}

func (r *runRecordComponent) Health() error { return nil }

type watcherComponent struct {
	watcher *config.Watcher
}

func (w *watcherComponent) Start(ctx context.Context) error { return w.watcher.Start(ctx) }
func (w *watcherComponent) Stop() error                     { return w.watcher.Stop() }
func (w *watcherComponent) Health() error                   { return nil }
