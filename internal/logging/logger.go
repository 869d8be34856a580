package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// RequestLog is one function invocation as written to the request log.
type RequestLog struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	TraceID        string    `json:"trace_id,omitempty"`
	SpanID         string    `json:"span_id,omitempty"`
	Function       string    `json:"function"`
	Method         string    `json:"method,omitempty"`
	URL            string    `json:"url,omitempty"`
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	InputSize      int       `json:"input_size"`
	OutputSize     int       `json:"output_size,omitempty"`
}

// Logger writes request logs as one human line per call to a console
// writer and, once SetOutput is called, as JSON lines to a file.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	console bool
	file    *os.File
	enc     *json.Encoder
}

var defaultLogger = &Logger{out: os.Stdout}

// Default is the process request logger. Console output starts disabled.
func Default() *Logger { return defaultLogger }

// NewLogger returns a request logger printing console lines to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{out: w, console: true}
}

// SetOutput appends JSON lines to path, replacing any previous file.
func (l *Logger) SetOutput(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open request log: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
	l.file, l.enc = f, json.NewEncoder(f)
	return nil
}

func (l *Logger) SetConsole(on bool) {
	l.mu.Lock()
	l.console = on
	l.mu.Unlock()
}

func (l *Logger) Log(entry *RequestLog) {
	if l == nil || entry == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.console && l.out != nil {
		writeConsoleLine(l.out, entry)
	}
	if l.enc != nil {
		_ = l.enc.Encode(entry)
	}
}

func (l *Logger) Close() {
	l.mu.Lock()
	l.closeFile()
	l.mu.Unlock()
}

func (l *Logger) closeFile() {
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file, l.enc = nil, nil
}

// writeConsoleLine renders e.g. "[request] ✓ req-1 deleteFile 12ms [DELETE 200]".
func writeConsoleLine(w io.Writer, e *RequestLog) {
	mark := "✓"
	if !e.Success {
		mark = "✗"
	}
	fmt.Fprintf(w, "[request] %s %s %s %dms", mark, e.RequestID, e.Function, e.DurationMs)
	if e.UpstreamStatus != 0 {
		fmt.Fprintf(w, " [%s %d]", e.Method, e.UpstreamStatus)
	}
	fmt.Fprintln(w)
	if e.Error != "" {
		fmt.Fprintf(w, "[request]   error: %s\n", e.Error)
	}
}
