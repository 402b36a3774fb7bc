package logger

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter splits a byte stream into lines and logs each one under module.
// Level is taken from a bracketed tag in the line ([ERROR], [WARNING], ...);
// untagged lines are logged at DEBUG.
type LineWriter struct {
	module string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter returns a writer suitable for exec.Cmd.Stderr.
func NewLineWriter(module string) *LineWriter {
	return &LineWriter{module: module}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	if line == "" {
		return
	}
	Log(LevelOfLine(line), w.module, "%s", line)
}

// LevelOfLine maps Python-style level tags to a LogLevel.
func LevelOfLine(line string) LogLevel {
	switch {
	case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
		return ERROR
	case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
		return WARN
	case strings.Contains(line, "[INFO]"):
		return INFO
	default:
		return DEBUG
	}
}

// Log writes at an explicit level using the global logger.
func Log(level LogLevel, module string, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.log(level, module, format, args...)
	}
}
