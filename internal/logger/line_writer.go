package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// LineWriter forwards child process output into a slog.Logger one line at a
// time. Partial lines are buffered until a newline or Close.
type LineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	buf    []byte
}

func NewLineWriter(l *slog.Logger, level slog.Level) *LineWriter {
	return &LineWriter{logger: l, level: level}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.buf[:idx])
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	// ffmpeg rewrites its progress line with \r
	line = bytes.TrimSpace(bytes.ReplaceAll(line, []byte{'\r'}, []byte{' '}))
	if len(line) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, string(line))
}
