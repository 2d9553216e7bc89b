// Package razorlog is the engine's structured logger: a log/slog front end
// with a text handler for interactive use and a JSON handler for ingestion
// by log pipelines, with severity-level and rotating-file configuration,
// and gopkg.in/natefinch/lumberjack.v2 doing the rotation itself.
package razorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "02/01/2006 15:04:05.000000"

const defaultAsyncBufferSize = 4096

// RotateConfig mirrors lumberjack's own knobs; Init passes each field
// straight to the matching lumberjack.Logger field.
type RotateConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config selects the logger's output format, minimum severity, and
// destination. An empty FilePath logs to stderr synchronously; a non-empty
// one logs to a lumberjack-rotated file through an AsyncLogger.
type Config struct {
	Format   string // "text" or "json"; defaults to "json"
	Severity Severity
	FilePath string
	Rotate   RotateConfig
}

func replaceAttr(isJSON bool) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			t := a.Value.Time()
			if isJSON {
				return slog.Attr{Key: "timestamp", Value: slog.GroupValue(
					slog.Int64("seconds", t.Unix()),
					slog.Int64("nanos", int64(t.Nanosecond())),
				)}
			}
			return slog.String(slog.TimeKey, t.Format(timeLayout))
		case slog.LevelKey:
			lvl, _ := a.Value.Any().(slog.Level)
			return slog.String("severity", severityName(lvl))
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: a.Value}
		}
		return a
	}
}

func newHandler(format string, w io.Writer, levelVar *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelVar, ReplaceAttr: replaceAttr(format == "json")}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

var (
	levelVar = func() *slog.LevelVar {
		lv := new(slog.LevelVar)
		lv.Set(LevelInfo)
		return lv
	}()

	current atomic.Pointer[slog.Logger]

	closeMu     sync.Mutex
	currentSink io.Closer
)

func init() {
	current.Store(slog.New(newHandler("json", os.Stderr, levelVar)))
}

// Init (re)configures the package-level logger. Any previously opened log
// file is closed after the new sink is in place.
func Init(cfg Config) error {
	format := cfg.Format
	if format == "" {
		format = "json"
	}
	sev := cfg.Severity
	if sev == "" {
		sev = Info
	}

	var w io.Writer = os.Stderr
	var sink io.Closer
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotate.MaxSizeMB,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAge:     cfg.Rotate.MaxAgeDays,
			Compress:   cfg.Rotate.Compress,
		}
		async := NewAsyncLogger(lj, defaultAsyncBufferSize)
		w = async
		sink = async
	}

	levelVar.Set(levelFor(sev))
	current.Store(slog.New(newHandler(format, w, levelVar)))

	closeMu.Lock()
	prev := currentSink
	currentSink = sink
	closeMu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Close releases the current log file, if one is open.
func Close() error {
	closeMu.Lock()
	sink := currentSink
	currentSink = nil
	closeMu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// SetSeverity changes the minimum severity without reopening the sink.
func SetSeverity(s Severity) {
	levelVar.Set(levelFor(s))
}

func logf(level slog.Level, format string, args ...any) {
	l := current.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

// With returns a structured logger carrying the given key/value attrs, for
// call sites that want per-operation fields (inode, path, latency) rather
// than a formatted message.
func With(args ...any) *slog.Logger {
	return current.Load().With(args...)
}
