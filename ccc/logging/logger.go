package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	// LogLevelDebug is used for debug messages, including raw encoder output
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is used for informational messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is used for warning messages
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is used for error messages
	LogLevelError LogLevel = "error"
)

// ParseLogLevel converts a configuration string into a LogLevel, defaulting to info
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn:
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dailyRotatingWriter is a writer that creates a new log file each day
type dailyRotatingWriter struct {
	logDir      string
	filename    string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

func newDailyRotatingWriter(logDir, filename string) *dailyRotatingWriter {
	return &dailyRotatingWriter{
		logDir:   logDir,
		filename: filename,
		now:      time.Now,
	}
}

// Write implements the io.Writer interface
func (w *dailyRotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// log files are named after the local date
	currentDate := w.now().Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != currentDate {
		if err := w.rotate(currentDate); err != nil {
			return 0, err
		}
	}

	return w.currentFile.Write(p)
}

// rotate closes the current file and opens a new one for the given date
func (w *dailyRotatingWriter) rotate(date string) error {
	if w.currentFile != nil {
		w.currentFile.Close()
	}

	name := fmt.Sprintf("%s-%s.log", w.filename, date)
	file, err := os.OpenFile(filepath.Join(w.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close closes the current file
func (w *dailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	return nil
}

// CreateLogger creates a logger that writes JSON records to daily rotating log files.
// When console is true every record is mirrored to stdout as well.
func CreateLogger(logLevel LogLevel, logDir string, fileName string, console bool) Logger {
	opts := &slog.HandlerOptions{Level: logLevel.slogLevel()}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to console logging if we can't create the log directory
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	var out io.Writer = newDailyRotatingWriter(logDir, fileName)
	if console {
		out = io.MultiWriter(out, os.Stdout)
	}

	return slog.New(slog.NewJSONHandler(out, opts))
}

// nopLogger is a no-operation logger that implements the Logger interface.
type nopLogger struct{}

// NopLogger is a singleton Logger that performs no operations.
// Use this when no logging is desired or when a logger is required but no output is needed.
var NopLogger Logger = &nopLogger{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Debug(msg string, args ...any) {}
