package logging

// Leveled logging for servobus, backed by zerolog.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// String returns the level name as used in config files.
func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a config/flag value into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "quiet", "off":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug", "trace":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func init() {
	// Debug maps to zerolog trace, which the default global level filters.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

// zerolog has no "verbose"; it sits between info and debug, so verbose maps
// to zerolog debug and debug maps to trace.
func (l LogLevel) zeroLevel() zerolog.Level {
	switch l {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelVerbose:
		return zerolog.DebugLevel
	case LogLevelDebug:
		return zerolog.TraceLevel
	default:
		return zerolog.Disabled
	}
}

// Logger provides leveled logging to the terminal and an optional file.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	format   string
	logEvery int
	file     *os.File
	fileLog  *zerolog.Logger
	stdout   zerolog.Logger
	stderr   zerolog.Logger
	hex      zerolog.Logger
}

// NewLogger creates a new logger
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, logFile, "text", 1)
}

// NewLoggerWithOptions creates a logger with an output format ("text" or
// "json") and a sampling rate for hex dumps (every Nth dump is kept).
func NewLoggerWithOptions(level LogLevel, logFile, format string, logEvery int) (*Logger, error) {
	l, err := newLogger(level, os.Stdout, os.Stderr, format, logEvery)
	if err != nil {
		return nil, err
	}

	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		fl := zerolog.New(file).With().Timestamp().Logger()
		l.fileLog = &fl
	}

	return l, nil
}

// NewWriterLogger creates a logger that sends everything to w. Used by
// embedded consumers such as the monitor UI and by tests. An unknown format
// falls back to text.
func NewWriterLogger(level LogLevel, w io.Writer, format string) *Logger {
	l, err := newLogger(level, w, w, format, 1)
	if err != nil {
		l, _ = newLogger(level, w, w, "text", 1)
	}
	return l
}

func newLogger(level LogLevel, out, errOut io.Writer, format string, logEvery int) (*Logger, error) {
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if logEvery <= 0 {
		logEvery = 1
	}

	l := &Logger{
		level:    level,
		format:   format,
		logEvery: logEvery,
		stdout:   newZerolog(out, format),
		stderr:   newZerolog(errOut, format),
	}
	l.hex = l.stdout.Sample(&zerolog.BasicSampler{N: uint32(logEvery)})
	return l, nil
}

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:          w,
		NoColor:      true,
		TimeFormat:   time.TimeOnly,
		PartsExclude: []string{zerolog.TimestampFieldName},
	})
}

// Close closes the logger and flushes all data
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileLog = nil
		return err
	}
	return nil
}

// With returns a child logger that tags every line with key=value. The
// child shares the parent's outputs; only the parent closes the file.
func (l *Logger) With(key, value string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &Logger{
		level:    l.level,
		format:   l.format,
		logEvery: l.logEvery,
		stdout:   l.stdout.With().Str(key, value).Logger(),
		stderr:   l.stderr.With().Str(key, value).Logger(),
		hex:      l.hex.With().Str(key, value).Logger(),
	}
	if l.fileLog != nil {
		fl := l.fileLog.With().Str(key, value).Logger()
		child.fileLog = &fl
	}
	return child
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelError {
		l.write(LogLevelError, fmt.Sprintf(format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelInfo {
		l.write(LogLevelInfo, fmt.Sprintf(format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelVerbose {
		l.write(LogLevelVerbose, fmt.Sprintf(format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelDebug {
		l.write(LogLevelDebug, fmt.Sprintf(format, v...), false)
	}
}

// write writes a message to the appropriate outputs
func (l *Logger) write(level LogLevel, msg string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Always write to log file if available
	if l.fileLog != nil {
		l.fileLog.WithLevel(level.zeroLevel()).Msg(msg)
	}

	// Errors go to stderr, others to stdout only at verbose or debug.
	if isError {
		l.stderr.WithLevel(level.zeroLevel()).Msg(msg)
	} else if l.level >= LogLevelVerbose {
		l.stdout.WithLevel(level.zeroLevel()).Msg(msg)
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogOperation logs one correlated bus request.
func (l *Logger) LogOperation(operation string, channel uint8, key string, success bool, rttMs float64, status uint8, err error) {
	var statusStr string
	if success {
		statusStr = "SUCCESS"
	} else {
		statusStr = "FAILED"
	}

	var errStr string
	if err != nil {
		errStr = fmt.Sprintf(" - error: %v", err)
	}

	msg := fmt.Sprintf("%s %s on channel %d (key: %s, status: 0x%02X, RTT: %.3fms)%s",
		statusStr, operation, channel, key, status, rttMs, errStr)

	if success {
		l.Verbose("%s", msg)
	} else {
		l.Info("%s", msg)
	}
}

// LogStartup logs startup information
func (l *Logger) LogStartup(driver, iface string, nodeID uint8, mtu int, configPath string) {
	l.Info("Starting servobus")
	l.Verbose("  Driver: %s", driver)
	l.Verbose("  Interface: %s", iface)
	l.Verbose("  Node ID: %d", nodeID)
	l.Verbose("  MTU: %d", mtu)
	l.Verbose("  Config: %s", configPath)
}

// LogHex logs hex data (for debug level). Dumps are sampled by the
// logger's logEvery setting.
func (l *Logger) LogHex(label string, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	formatted := FormatHex(data)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileLog != nil {
		l.fileLog.Trace().Str("label", label).Msg(formatted)
	}
	l.hex.Trace().Str("label", label).Msg(formatted)
}

// FormatHex renders bytes as space separated hex pairs.
func FormatHex(data []byte) string {
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
