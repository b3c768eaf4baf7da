// Package logger 基于 zap 的结构化日志
package logger

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/user/kinomerge/internal/config"
)

// RequestIDKey gin 上下文中请求 ID 的键
const RequestIDKey = "request_id"

// New 按配置创建 logger
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Level == "debug" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	} else {
		zc.Encoding = "json"
	}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.MessageKey = "message"

	return zc.Build()
}

// WithRequestID 附加请求 ID
func WithRequestID(l *zap.Logger, c *gin.Context) *zap.Logger {
	if id := c.GetString(RequestIDKey); id != "" {
		return l.With(zap.String(RequestIDKey, id))
	}
	return l
}
