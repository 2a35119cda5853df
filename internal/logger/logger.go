package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

// 进程内共享的日志门面，底层为 log/slog 的 TextHandler。
// 级别与输出均可在运行期切换（主程序把输出重定向到日志文件时使用）。

type facade struct {
	mu  sync.RWMutex
	out io.Writer
	l   *slog.Logger
}

var (
	level slog.LevelVar
	std   = &facade{out: os.Stdout}
)

func init() {
	level.Set(slog.LevelInfo)
	std.rebuild()
}

func (f *facade) rebuild() {
	if f.out == nil {
		f.out = os.Stdout
	}
	f.l = slog.New(slog.NewTextHandler(f.out, &slog.HandlerOptions{Level: &level}))
}

func (f *facade) current() *slog.Logger {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.l
}

// SetOutput 切换日志输出目标。
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.rebuild()
	std.mu.Unlock()
}

// SetLevel 按名称设置日志级别，未知名称回落到 info。
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) { std.current().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { std.current().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { std.current().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { std.current().Error(fmt.Sprintf(format, v...)) }
