package logger

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
)

// AsyncHandler buffers records on a channel and writes them from a single
// background goroutine, so callers on the hot path never block on I/O.
type AsyncHandler struct {
	next    slog.Handler
	records chan slog.Record
	drop    bool
	once    sync.Once
}

// NewAsyncHandler wraps next with a bounded buffer of the given size. When
// the buffer is full, dropOnFull controls whether new records are dropped
// (true) or whether the caller blocks until space frees up (false).
func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	h := &AsyncHandler{
		next:    next,
		records: make(chan slog.Record, bufferSize),
		drop:    dropOnFull,
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	for r := range h.records {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.drop {
		select {
		case h.records <- r.Clone():
		default:
		}
		return nil
	}
	h.records <- r.Clone()
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, drop: h.drop}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, drop: h.drop}
}

// SamplingHandler drops a fraction of records to bound log volume under load.
// Records at Warn level or above always pass through.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

// NewSamplingHandler keeps roughly `rate` (0..1) of Info/Debug records.
func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn || rand.Float64() < h.rate {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}

// RedactHandler scrubs attribute values whose key suggests sensitive data
// before they reach the output handler.
type RedactHandler struct {
	next slog.Handler
}

func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

var redactedKeys = []string{"password", "token", "secret", "authorization", "apikey", "api_key"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	clone := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if isSensitiveKey(a.Key) {
			a.Value = slog.StringValue("***REDACTED***")
		}
		clone.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, clone)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
