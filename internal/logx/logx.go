// Package logx 构造引擎和命令行工具使用的 zap 日志器。
package logx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelFor 把详细程度映射为日志级别：0 警告，1 信息，2 及以上调试
func LevelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// New 创建写到标准错误的控制台日志器
func New(verbosity int) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(LevelFor(verbosity))
	cfg.DisableStacktrace = true
	cfg.DisableCaller = verbosity < 2
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.TimeKey = ""
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// OrNop 空日志器替换为 zap.NewNop()
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
