// Package eventlog appends domain events as JSON lines to a durable log
// file. Writes happen on a dedicated worker goroutine so that slow disks
// never stall request handlers.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger writes one JSON object per line: {"ts": ..., "type":
// "info"|"error", "msg": ..., <context fields>}. A write failure is
// reported to stderr as a JSON object and never propagates to callers.
type Logger struct {
	log *slog.Logger
	w   *asyncWriter
}

// New opens (or creates) the log file at path and starts the writer
// goroutine.
func New(path string) (*Logger, error) {
	// Fail fast on an unwritable path instead of spamming stderr later.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	f.Close()

	w := newAsyncWriter(path)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{ReplaceAttr: replaceAttr})
	return &Logger{log: slog.New(handler), w: w}, nil
}

// Info appends an info entry with the given context fields.
func (l *Logger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

// Error appends an error entry with the given context fields.
func (l *Logger) Error(msg string, args ...any) {
	l.log.Error(msg, args...)
}

// With returns a logger that includes args in every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{log: l.log.With(args...), w: l.w}
}

// Close flushes queued entries and stops the writer goroutine. Entries
// logged after Close are written synchronously.
func (l *Logger) Close() {
	l.w.close()
}

// Timestamp renders t the way every log entry does: UTC, millisecond
// precision, trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("ts", Timestamp(a.Value.Time()))
	case slog.LevelKey:
		level, _ := a.Value.Any().(slog.Level)
		kind := "info"
		if level >= slog.LevelError {
			kind = "error"
		}
		return slog.String("type", kind)
	}
	return a
}

// asyncWriter queues serialized lines on a buffered channel; a single
// goroutine appends them to the file in order.
type asyncWriter struct {
	path string
	ch   chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newAsyncWriter(path string) *asyncWriter {
	w := &asyncWriter{
		path: path,
		ch:   make(chan []byte, 1024),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Write implements io.Writer for the slog handler. The handler reuses its
// buffer, so the line is copied before it is handed to the worker.
func (w *asyncWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.append(line)
		return len(p), nil
	}
	w.ch <- line
	return len(p), nil
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for line := range w.ch {
		w.append(line)
	}
}

func (w *asyncWriter) append(line []byte) {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.reportFailure(err, line)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		w.reportFailure(err, line)
	}
}

// reportFailure emits the failed entry on stderr. Losing a log line must
// never take down the request that produced it.
func (w *asyncWriter) reportFailure(err error, line []byte) {
	out, marshalErr := json.Marshal(struct {
		TS     string          `json:"ts"`
		Type   string          `json:"type"`
		Msg    string          `json:"msg"`
		Err    string          `json:"err"`
		LogObj json.RawMessage `json:"log_obj"`
	}{
		TS:     Timestamp(time.Now()),
		Type:   "log_error",
		Msg:    "log_write_failed",
		Err:    err.Error(),
		LogObj: json.RawMessage(line),
	})
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, `{"type":"log_error","msg":"log_write_failed"}`+"\n")
		return
	}
	fmt.Fprintln(os.Stderr, string(out))
}

func (w *asyncWriter) close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.ch)
		<-w.done
	})
}
