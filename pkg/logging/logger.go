package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// DefaultLogDir is tried first by NewFileLogger
const DefaultLogDir = "/var/log/epoch-keeper"

// sink is the destination shared by a logger and every child derived from it.
// Rotation swaps the file under mu, so children follow it.
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
	console io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output.Write(line)
}

// Logger provides structured logging with optional file output
type Logger struct {
	level      Level
	jsonFormat bool
	out        *sink
	fields     map[string]interface{}
	component  string
	now        func() time.Time
}

// NewLogger creates a new logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		out:        &sink{output: os.Stdout, console: os.Stdout},
		fields:     make(map[string]interface{}),
		now:        time.Now,
	}
}

// NewFileLogger creates a logger that writes to <dir>/<component>.log and stderr.
// Stdout is left to command output. An empty dir means DefaultLogDir, falling
// back to ./logs if that is not writable.
func NewFileLogger(dir, component string, level Level, jsonFormat bool) (*Logger, error) {
	logPath := GetLogPath(dir, component)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		out: &sink{
			output:  io.MultiWriter(logFile, os.Stderr),
			logFile: logFile,
			console: os.Stderr,
		},
		fields:     make(map[string]interface{}),
		component:  component,
		now:        time.Now,
	}

	logger.Debug(fmt.Sprintf("Logger initialized: %s -> %s", component, logPath))

	return logger, nil
}

// SetOutput replaces the console writer. A file logger keeps writing to its file too.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.console = w
	if l.out.logFile != nil {
		l.out.output = io.MultiWriter(l.out.logFile, w)
	} else {
		l.out.output = w
	}
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	mergedFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		mergedFields[k] = v
	}
	for k, v := range fields {
		mergedFields[k] = v
	}

	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: l.now().UTC().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    mergedFields,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
			return
		}
		l.out.write(append(data, '\n'))
	} else {
		var b strings.Builder
		timestamp := l.now().Format("2006-01-02 15:04:05")
		fmt.Fprintf(&b, "[%s] %s: %s", timestamp, level.String(), message)
		if len(mergedFields) > 0 {
			fmt.Fprintf(&b, " %s", formatFields(mergedFields))
		}
		b.WriteByte('\n')
		l.out.write([]byte(b.String()))
	}

	if level == FATAL {
		os.Exit(1)
	}
}

// formatFields renders fields as sorted key=value pairs
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, first(fields))
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds several fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	// Copy fields to avoid mutation
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		out:        l.out,
		fields:     newFields,
		component:  l.component,
		now:        l.now,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.logFile != nil {
		return l.out.logFile.Close()
	}
	return nil
}

// RotateIfNeeded rotates log file if it exceeds maxSize (in bytes).
// It is safe to call while other goroutines log.
func (l *Logger) RotateIfNeeded(maxSize int64) error {
	oldPath, backupPath, err := l.rotate(maxSize)
	if err != nil || backupPath == "" {
		return err
	}
	l.Info(fmt.Sprintf("Log rotated: %s -> %s", oldPath, backupPath))
	return nil
}

func (l *Logger) rotate(maxSize int64) (oldPath, backupPath string, err error) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logFile == nil {
		return "", "", nil
	}

	info, err := s.logFile.Stat()
	if err != nil {
		return "", "", err
	}
	if info.Size() <= maxSize {
		return "", "", nil
	}

	oldPath = s.logFile.Name()
	backupPath = oldPath + "." + l.now().Format("20060102-150405")

	s.logFile.Close()
	if err := os.Rename(oldPath, backupPath); err != nil {
		return "", "", err
	}

	newFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Keep logging to the console rather than a closed file
		s.logFile = nil
		s.output = s.console
		return "", "", err
	}

	s.logFile = newFile
	s.output = io.MultiWriter(newFile, s.console)
	return oldPath, backupPath, nil
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the log path for a component
func GetLogPath(dir, component string) string {
	if dir == "" {
		dir = DefaultLogDir
		if !isWritable(dir) {
			dir = "./logs"
		}
	}
	return filepath.Join(dir, component+".log")
}
