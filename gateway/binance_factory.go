package gateway

import (
	"go.uber.org/zap"
)

// BuildBinance 构建 REST 客户端与用户数据流（不发起连接）。
// cfg.Limiter 为空时按 10 req/s、突发 20 的令牌桶限流。
func BuildBinance(cfg BinanceConfig, stream UserStreamConfig, logger *zap.Logger) (*BinanceClient, *UserStream) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewDefaultHTTPClient()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewTokenBucketLimiter(10, 20)
	}
	rest := NewBinanceClient(cfg)
	return rest, NewUserStream(stream, rest, logger)
}
