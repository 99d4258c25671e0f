package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dwellwatch/internal/config"

	"github.com/rs/zerolog"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and to the console.
type Logger struct {
	zl     zerolog.Logger
	logDir string
	files  []*os.File
	mu     *sync.Mutex
}

// levelWriter sends every entry to the console and a copy to the file of its level.
type levelWriter struct {
	console io.Writer
	files   map[zerolog.Level]io.Writer
}

func (w levelWriter) Write(p []byte) (int, error) {
	return w.console.Write(p)
}

func (w levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if f, ok := w.files[level]; ok {
		if _, err := f.Write(p); err != nil {
			return 0, err
		}
	}
	return w.console.Write(p)
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	l := &Logger{
		logDir: config.LogDirectory,
		mu:     &sync.Mutex{},
	}

	infoFile := l.openLogFile(filepath.Join(l.logDir, "info.log"))
	warningFile := l.openLogFile(filepath.Join(l.logDir, "warning.log"))
	errorFile := l.openLogFile(filepath.Join(l.logDir, "error.log"))

	writer := levelWriter{
		console: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime},
		files: map[zerolog.Level]io.Writer{
			zerolog.DebugLevel: infoFile,
			zerolog.InfoLevel:  infoFile,
			zerolog.WarnLevel:  warningFile,
			zerolog.ErrorLevel: errorFile,
		},
	}

	l.zl = zerolog.New(writer).Level(parseLevel(config.LogLevel)).With().Timestamp().Logger()
	return l
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), mu: &sync.Mutex{}}
}

// NewWithWriter returns a console-less Logger writing JSON lines to w.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{
		zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
		mu: &sync.Mutex{},
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(filename string) *os.File {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file %s: %v", filename, err)
	}
	l.files = append(l.files, file)
	return file
}

// With returns a child logger that tags every entry with key=value.
// The child shares files with its parent.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		zl:     l.zl.With().Interface(key, value).Logger(),
		logDir: l.logDir,
		mu:     l.mu,
	}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(l.zl.Debug(), format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(l.zl.Info(), format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.write(l.zl.Warn(), format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(l.zl.Error(), format, v...)
}

func (l *Logger) write(e *zerolog.Event, format string, v ...interface{}) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Msg(fmt.Sprintf(format, v...))
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.Error("Error opening file: %v", err)
		return err
	}
	defer file.Close()

	l.Info("File %s has been cleared.", fileName)
	return nil
}

// Close closes the log files owned by this logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
