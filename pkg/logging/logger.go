// Package logging writes the run-scoped debug log.
//
// Every run gets its own file, <dir>/<run-id>.log, shared by all components
// of that run. Entries look like
//
//	[2006-01-02 15:04:05.000] [executor] [INFO] step s1 started
//
// The progress stream shown to the operator is separate; this log is for
// post-mortem debugging.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// sink is the destination shared by a logger and its children.
type sink struct {
	mu        sync.Mutex
	file      *os.File
	logger    *log.Logger
	closeOnce sync.Once
}

// Logger writes leveled entries for one component of a run.
//
// All log methods (Debugf, Infof, Warnf, Errorf) write unconditionally.
// There is currently no log level filtering.
type Logger struct {
	runID     string
	component string
	logPath   string
	sink      *sink
}

// New creates a logger for component writing to <dir>/<runID>.log.
//
// If the directory cannot be created or the file cannot be opened, it
// returns a fallback logger that writes to stderr along with the error.
// Callers can check the error to detect fallback mode and log warnings.
func New(dir, runID, component string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		err = fmt.Errorf("failed to create log directory: %w", err)
		return newFallbackLogger(runID, component, err), err
	}

	logPath := filepath.Join(dir, runID+".log")

	// Append: a resumed run with the same id keeps its history
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(runID, component, err), err
	}

	return &Logger{
		runID:     runID,
		component: component,
		logPath:   logPath,
		sink:      &sink{file: file, logger: log.New(file, "", 0)},
	}, nil
}

// Discard returns a logger that drops every entry.
func Discard() *Logger {
	return &Logger{
		component: "discard",
		sink:      &sink{logger: log.New(io.Discard, "", 0)},
	}
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(runID, component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		runID:     runID,
		component: component,
		sink:      &sink{logger: logger},
	}
}

// Named returns a logger for another component writing to the same file.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: component,
		logPath:   l.logPath,
		sink:      l.sink,
	}
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	entry := l.formatLogEntry(level, fmt.Sprintf(format, v...))

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.logger.Println(entry)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// RunID returns the run this logger belongs to
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file, or "" when not logging to a file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times and on children.
func (l *Logger) Close() error {
	var err error
	l.sink.closeOnce.Do(func() {
		if l.sink.file != nil {
			l.sink.mu.Lock()
			defer l.sink.mu.Unlock()
			err = l.sink.file.Close()
		}
	})
	return err
}
