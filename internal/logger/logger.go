// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides a simple logging interface
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Named(name string) Logger
}

// Config selects level, encoder and destination
type Config struct {
	Level       string
	Development bool
	// Output is a file path; empty means stderr
	Output string
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a zap-backed Logger named prefix. Unknown levels fall back to info.
func New(prefix string, config Config) (Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if config.Level != "" {
		if err := level.UnmarshalText([]byte(config.Level)); err != nil {
			level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zc := zap.NewProductionConfig()
	if config.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = !config.Development
	if config.Output != "" {
		zc.OutputPaths = []string{config.Output}
		zc.ErrorOutputPaths = []string{config.Output}
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar().Named(prefix)}, nil
}

// Nop discards everything
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Info(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warn(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Error(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *zapLogger) Debug(format string, args ...interface{}) { l.s.Debugf(format, args...) }

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{s: l.s.Named(name)}
}

// Sync flushes buffered entries; errors from syncing stdout/stderr are ignored.
func Sync(l Logger) {
	if z, ok := l.(*zapLogger); ok {
		_ = z.s.Sync()
	}
}
