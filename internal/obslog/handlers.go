package obslog

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
)

// RedactHandler masks attribute values that look like secrets (email
// addresses, credit-card-shaped digit runs) before they reach the wrapped
// handler. It is a conservative, pattern-based filter, not a full DLP
// scanner — good enough to keep a snapshot description with an embedded
// email out of the log stream. Other secret shapes, such as access keys,
// are not matched.
type RedactHandler struct {
	next slog.Handler
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ccPattern    = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func redactString(s string) string {
	s = emailPattern.ReplaceAllString(s, "[redacted-email]")
	s = ccPattern.ReplaceAllString(s, "[redacted-number]")
	return s
}

func redactValue(v slog.Value) slog.Value {
	if v.Kind() == slog.KindString {
		return slog.StringValue(redactString(v.String()))
	}
	return v
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(slog.Attr{Key: a.Key, Value: redactValue(a.Value)})
		return true
	})
	return h.next.Handle(ctx, nr)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}

// SamplingHandler drops a fraction of records before they reach the wrapped
// handler. Errors and warnings are never sampled away.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

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

// AsyncHandler buffers records on a channel and writes them from a single
// background goroutine, so callers never block on slow output. When the
// buffer is full, dropOnFull controls whether new records are discarded
// (true) or the caller blocks (false).
type AsyncHandler struct {
	next       slog.Handler
	ch         chan asyncRecord
	dropOnFull bool
}

type asyncRecord struct {
	ctx context.Context
	r   slog.Record
}

func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	h := &AsyncHandler{
		next:       next,
		ch:         make(chan asyncRecord, bufferSize),
		dropOnFull: dropOnFull,
	}
	go h.loop()
	return h
}

func (h *AsyncHandler) loop() {
	for item := range h.ch {
		_ = h.next.Handle(item.ctx, item.r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	item := asyncRecord{ctx: ctx, r: r.Clone()}
	if h.dropOnFull {
		select {
		case h.ch <- item:
		default:
			// buffer full: drop rather than block the caller
		}
		return nil
	}
	h.ch <- item
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), ch: h.ch, dropOnFull: h.dropOnFull}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), ch: h.ch, dropOnFull: h.dropOnFull}
}
