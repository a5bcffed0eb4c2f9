package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"gopkg.in/natefinch/lumberjack.v2"

	"inference_gateway/internal/middleware"
	"inference_gateway/internal/utils"
)

// RequestLog is one access log line.
type RequestLog struct {
	Timestamp  time.Time           `json:"timestamp"`
	RequestID  string              `json:"request_id,omitempty"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Status     int                 `json:"status"`
	DurationMS int64               `json:"duration_ms"`
	Bytes      int                 `json:"bytes"`
	RemoteAddr string              `json:"remote_addr"`
	UserAgent  string              `json:"user_agent,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
}

// RequestLoggerConfig controls file rotation
type RequestLoggerConfig struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	BufferSize int
}

// redactedHeaders never reach the access log
var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
}

// RequestLogger writes JSONL access logs asynchronously. Entries are queued on
// a buffered channel and dropped when the queue is full so request handling
// never waits on disk.
type RequestLogger struct {
	out     io.WriteCloser
	logCh   chan RequestLog
	doneCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
	logger *utils.Logger
}

// NewRequestLogger creates a logger writing to a size-rotated file.
func NewRequestLogger(cfg RequestLoggerConfig) (*RequestLogger, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("request log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return NewRequestLoggerWithWriter(out, cfg.BufferSize), nil
}

// NewRequestLoggerWithWriter creates a logger over an arbitrary sink.
func NewRequestLoggerWithWriter(out io.WriteCloser, bufferSize int) *RequestLogger {
	if bufferSize < 1 {
		bufferSize = 1
	}
	logger := &RequestLogger{
		out:    out,
		logCh:  make(chan RequestLog, bufferSize),
		doneCh: make(chan struct{}),
		logger: utils.NewLogger("request-logger"),
	}

	logger.wg.Add(1)
	go logger.run()
	return logger
}

func (l *RequestLogger) run() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.logCh:
			l.writeEntry(entry)
		case <-l.doneCh:
			for {
				select {
				case entry := <-l.logCh:
					l.writeEntry(entry)
				default:
					if err := l.out.Close(); err != nil {
						l.logger.Warn("Failed to close request log", "error", err)
					}
					return
				}
			}
		}
	}
}

func (l *RequestLogger) writeEntry(entry RequestLog) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := l.out.Write(data); err != nil {
		l.logger.Warn("Failed to write request log", "error", err)
	}
}

// Log queues an entry. If the queue is full the entry is dropped.
func (l *RequestLogger) Log(entry RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.logCh <- entry:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded because the queue was full
func (l *RequestLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Middleware logs every request after it completes. Request bodies are
// never read.
func (l *RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		headers := make(map[string][]string, len(r.Header))
		for k, v := range r.Header {
			if redactedHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			headers[k] = v
		}

		l.Log(RequestLog{
			Timestamp:  start.UTC(),
			RequestID:  middleware.GetRequestID(r.Context()),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			DurationMS: time.Since(start).Milliseconds(),
			Bytes:      ww.BytesWritten(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			Headers:    headers,
		})
	})
}

// Shutdown drains queued entries and closes the file.
// Call Shutdown() from your application's graceful shutdown handler.
func (l *RequestLogger) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.doneCh)
	l.wg.Wait()
}
