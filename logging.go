package mempool

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/intuitivelabs/slog"
)

// LogLevel orders the severity of a logged event.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// logger is a level-filtered dual-sink facade. Standard output runs
// through the same intuitivelabs/slog.Log primitive log_common.go
// wires up as a single package-level instance; the file sink stays on
// plain os/fmt, since slog's output selector names fixed system
// streams rather than an arbitrary caller-chosen path. Its zero value
// has both sinks disabled.
type logger struct {
	mu sync.Mutex

	toStdout    bool
	stdoutLevel LogLevel

	toFile    bool
	fileLevel LogLevel
	file      *os.File
}

var defaultLogger logger

// stdoutLog is the slog instance backing the stdout sink. It is
// rebuilt by EnableStdoutLogging so the floor passed to slog.New
// tracks the facade's configured level; LLog itself, not the facade,
// does the per-call filtering against that floor.
var stdoutLog slog.Log = slog.New(slog.LBUG, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)

func newStdoutLog(floor LogLevel) slog.Log {
	switch floor {
	case LevelDebug:
		return slog.New(slog.LDBG, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)
	case LevelInfo:
		return slog.New(slog.LINFO, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)
	case LevelWarn:
		return slog.New(slog.LWARN, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)
	case LevelError:
		return slog.New(slog.LERR, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)
	default:
		return slog.New(slog.LBUG, slog.LbackTraceL|slog.LlocInfoL, slog.LStdOut)
	}
}

// slogCalls dispatches a formatted event to stdoutLog at the matching
// slog severity, mirroring log_common.go's WARN/ERR/BUG helpers rather
// than one generic call, since slog.LLog takes its level as a literal
// constant argument.
var slogCalls = [...]func(format string, args ...interface{}){
	LevelDebug: func(format string, args ...interface{}) { stdoutLog.LLog(slog.LDBG, 1, "mempool: ", format, args...) },
	LevelInfo:  func(format string, args ...interface{}) { stdoutLog.LLog(slog.LINFO, 1, "mempool: ", format, args...) },
	LevelWarn:  func(format string, args ...interface{}) { stdoutLog.LLog(slog.LWARN, 1, "mempool: ", format, args...) },
	LevelError: func(format string, args ...interface{}) { stdoutLog.LLog(slog.LERR, 1, "mempool: ", format, args...) },
	LevelFatal: func(format string, args ...interface{}) { stdoutLog.LLog(slog.LBUG, 1, "mempool: ", format, args...) },
}

// EnableStdoutLogging turns on logging to standard output for events
// at level or above.
func EnableStdoutLogging(level LogLevel) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.toStdout = true
	defaultLogger.stdoutLevel = level
	stdoutLog = newStdoutLog(level)
}

// DisableStdoutLogging turns off logging to standard output.
func DisableStdoutLogging() {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.toStdout = false
}

// EnableFileLogging opens path for appending (creating it if
// necessary) and turns on logging to it for events at level or above.
func EnableFileLogging(path string, level LogLevel) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.file != nil {
		defaultLogger.file.Close()
	}
	defaultLogger.file = f
	defaultLogger.toFile = true
	defaultLogger.fileLevel = level
	return nil
}

// DisableFileLogging turns off file logging and closes the file
// descriptor opened by EnableFileLogging, if any.
func DisableFileLogging() {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
	}
	defaultLogger.toFile = false
}

// logEvent dispatches a single log record to whichever sinks are
// enabled. The file sink writes one line per record: "<ctime string>
// [LEVEL] <message>\n".
func logEvent(level LogLevel, format string, args ...interface{}) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if !defaultLogger.toStdout && !defaultLogger.toFile {
		return
	}

	if defaultLogger.toStdout {
		slogCalls[level](format, args...)
	}

	if defaultLogger.toFile && level >= defaultLogger.fileLevel {
		msg := fmt.Sprintf(format, args...)
		stamp := time.Now().Format(time.ANSIC)
		line := fmt.Sprintf("%s [%s] %s\n", stamp, level, msg)
		fmt.Fprint(defaultLogger.file, line)
	}
}

func logDebugf(format string, args ...interface{}) { logEvent(LevelDebug, format, args...) }
func logInfof(format string, args ...interface{})  { logEvent(LevelInfo, format, args...) }
func logWarnf(format string, args ...interface{})  { logEvent(LevelWarn, format, args...) }
func logErrorf(format string, args ...interface{}) { logEvent(LevelError, format, args...) }
