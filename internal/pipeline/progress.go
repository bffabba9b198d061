package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/artemis/snap2s3/internal/obslog"
)

// CountingReader wraps an io.Reader, tracking the number of bytes read so
// far. It is the byte-stream analog of the teacher library's channel
// counters: every pipeline stage that needs to contribute to a progress
// view wraps its source in one of these.
type CountingReader struct {
	r io.Reader
	n int64
}

// NewCountingReader wraps r, counting bytes as they are read.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddInt64(&c.n, int64(n))
	return n, err
}

// Count returns the number of bytes read so far.
func (c *CountingReader) Count() int64 {
	return atomic.LoadInt64(&c.n)
}

// ProgressMeter periodically logs the combined progress of one or more
// CountingReaders against a total byte estimate, rendered as the
// structured-logging equivalent of a progress bar since nothing in the
// retrieved corpus supplies a progress-bar widget. The total is re-raised
// whenever actual bytes pass it, so the reported percentage never exceeds
// 100, matching the specification's progress-estimate-refinement note.
type ProgressMeter struct {
	label      string
	totalBytes int64
	counters   []*CountingReader

	stop chan struct{}
	done chan struct{}
}

// NewProgressMeter builds a meter reporting the sum of counters against
// totalBytes (the pre-upload or pre-validation size estimate).
func NewProgressMeter(label string, totalBytes int64, counters ...*CountingReader) *ProgressMeter {
	return &ProgressMeter{
		label:      label,
		totalBytes: totalBytes,
		counters:   counters,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins logging progress every interval until the context is
// canceled or Stop is called.
func (m *ProgressMeter) Start(ctx context.Context, interval time.Duration) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.logOnce(ctx)
			}
		}
	}()
}

func (m *ProgressMeter) logOnce(ctx context.Context) {
	var sum int64
	for _, c := range m.counters {
		sum += c.Count()
	}

	total := atomic.LoadInt64(&m.totalBytes)
	if total > 0 && sum > total {
		atomic.StoreInt64(&m.totalBytes, sum)
		total = sum
	}

	pct := float64(0)
	if total > 0 {
		pct = float64(sum) / float64(total) * 100
	}

	obslog.L().InfoContext(ctx, "progress",
		"label", m.label,
		"done_kib", sum/1024,
		"total_kib", total/1024,
		"percent", pct,
	)
}

// Stop halts the logging goroutine and waits for it to exit.
func (m *ProgressMeter) Stop() {
	close(m.stop)
	<-m.done
}
