package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Log 包装 slog.Logger 并持有可动态调整的日志级别
type Log struct {
	*slog.LevelVar
	*slog.Logger
}

// New 创建写入 w 的日志实例
// verbose 为 true 时输出 debug 级别的诊断信息，否则只输出 warn 及以上
func New(w io.Writer, verbose bool) *Log {
	level := &slog.LevelVar{}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{Key: "timestamp", Value: slog.TimeValue(a.Value.Time())}
			}
			return a
		},
	}
	l := &Log{
		LevelVar: level,
		Logger:   slog.New(slog.NewTextHandler(w, opts)),
	}
	if verbose {
		l.SetLogLevel("debug")
	} else {
		l.SetLogLevel("warn")
	}
	return l
}

// Discard 返回丢弃所有输出的日志实例，供未显式配置日志的调用方使用
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// SetLogLevel 按名称调整日志级别，未知名称保持不变
func (l *Log) SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		l.Set(slog.LevelDebug)
	case "info":
		l.Set(slog.LevelInfo)
	case "warn":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	}
}
