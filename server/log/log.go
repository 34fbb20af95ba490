package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

type Level int

const (
	LevelDebug    Level = iota // information that only a programmer will understand
	LevelInfo                  // information that a non-programmer might be interested in
	LevelWarn                  // speeds up tracking down issues, once you know about them
	LevelError                 // should not have happened
	LevelCritical              // wake somebody up
)

// Logger writes to stdout, and optionally also to a file.
// Messages below MinLevel are discarded.
type Logger struct {
	MinLevel Level

	lock   sync.Mutex
	output io.Writer
	file   *os.File
}

// Parse a level name such as INFO or warning
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "critical":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("Unknown log level '%v'", name)
}

// NewLog creates a log that writes to stdout, and also to filename if it is not empty.
// The directory of filename is created if necessary.
func NewLog(level string, filename string) (logs.Log, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		MinLevel: lvl,
		output:   os.Stdout,
	}
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("Failed to open log file: %w", err)
		}
		l.file = f
		l.output = io.MultiWriter(os.Stdout, f)
	}
	return l, nil
}

// NewWriterLog writes to any io.Writer
func NewWriterLog(w io.Writer, level Level) *Logger {
	return &Logger{
		MinLevel: level,
		output:   w,
	}
}

func levelToName(level Level) string {
	switch level {
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarn:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelCritical:
		return "Critical"
	}
	panic("Unknown log level")
}

func (l *Logger) write(level Level, format string, a ...interface{}) {
	if level < l.MinLevel {
		return
	}
	prefix := fmt.Sprintf("%.3f %v ", float64(time.Now().UnixNano())/1e9, levelToName(level))
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.output, prefix+format+"\n", a...)
}

func (l *Logger) Close() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.output = os.Stdout
	}
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.write(LevelDebug, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.write(LevelInfo, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.write(LevelWarn, format, a...)
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.write(LevelError, format, a...)
}

func (l *Logger) Criticalf(format string, a ...interface{}) {
	l.write(LevelCritical, format, a...)
}
