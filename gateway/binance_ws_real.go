package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ListenKeyAPI listenKey 的申请、续期与关闭
type ListenKeyAPI interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepAliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
}

// RawHandler 接收原始消息
type RawHandler interface {
	OnRawMessage([]byte)
}

// UserStreamConfig 用户数据流配置
type UserStreamConfig struct {
	BaseEndpoint   string        // 例如 wss://stream.binance.com:9443
	KeepAlive      time.Duration // listenKey 续期间隔，默认 30 分钟
	ReconnectDelay time.Duration // 断线重连等待，默认 3 秒
	ReadTimeout    time.Duration // 无消息/ping 的最长时间，默认 5 分钟
}

// UserStream 订阅用户数据流并在断线后自动重连。
type UserStream struct {
	cfg    UserStreamConfig
	keys   ListenKeyAPI
	Dialer *websocket.Dialer
	logger *zap.Logger

	OnReconnect func() // 可选，每次断线重连前调用
}

func NewUserStream(cfg UserStreamConfig, keys ListenKeyAPI, logger *zap.Logger) *UserStream {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Minute
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserStream{cfg: cfg, keys: keys, Dialer: websocket.DefaultDialer, logger: logger}
}

// Run 阻塞直到 ctx 结束。每次断线都会重新申请 listenKey 并重连。
func (u *UserStream) Run(ctx context.Context, handler RawHandler) error {
	if handler == nil {
		return errors.New("user stream handler required")
	}
	for {
		err := u.session(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		u.logger.Warn("user stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", u.cfg.ReconnectDelay),
		)
		if u.OnReconnect != nil {
			u.OnReconnect()
		}
		if sleepCtx(ctx, u.cfg.ReconnectDelay) != nil {
			return nil
		}
	}
}

func (u *UserStream) session(ctx context.Context, handler RawHandler) error {
	key, err := u.keys.StartUserStream(ctx)
	if err != nil {
		return fmt.Errorf("start user stream: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = u.keys.CloseUserStream(closeCtx, key)
	}()

	endpoint := strings.TrimRight(u.cfg.BaseEndpoint, "/") + "/ws/" + key
	conn, _, err := u.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer conn.Close()
	u.logger.Info("user stream connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// ctx 结束时关闭连接以打断 ReadMessage
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go u.keepAlive(sessCtx, key)

	_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
		handler.OnRawMessage(msg)
	}
}

func (u *UserStream) keepAlive(ctx context.Context, key string) {
	t := time.NewTicker(u.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := u.keys.KeepAliveUserStream(ctx, key); err != nil {
				u.logger.Warn("keepalive listenKey failed", zap.Error(err))
			}
		}
	}
}
