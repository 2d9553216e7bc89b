package razorlog

import "log/slog"

// Severity is the configured verbosity threshold, as a string so it can be
// set directly from configuration files/flags without a lookup table.
type Severity string

const (
	Trace   Severity = "TRACE"
	Debug   Severity = "DEBUG"
	Info    Severity = "INFO"
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
	Off     Severity = "OFF"
)

// Custom slog levels: the stdlib only defines Debug/Info/Warn/Error, but
// operation tracing wants a Trace level below Debug and an Off level
// above Error that discards everything.
const (
	LevelTrace slog.Level = slog.Level(-8)
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.Level(12)
)

func levelFor(s Severity) slog.Level {
	switch s {
	case Trace:
		return LevelTrace
	case Debug:
		return LevelDebug
	case Info:
		return LevelInfo
	case Warning:
		return LevelWarn
	case Error:
		return LevelError
	default:
		return LevelOff
	}
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}
