// Package pipeline provides small generic concurrency primitives used to
// join the per-snapshot parallel actors (reader, counter, compressor,
// hasher, uploader) named in the specification's concurrency model.
//
// TeeReader is the byte-stream analog of the teacher library's
// pkg/concurrency.Tee[T] channel splitter: instead of duplicating values
// off a channel, it duplicates bytes off an io.Reader into two independent
// readers, each consumable by its own goroutine. The validation code in
// internal/compare does not use it: it reads the local and remote sides
// from separate sources.
package pipeline

import (
	"context"
	"io"
)

type readResult struct {
	buf []byte
	err error
}

// TeeReader splits r into two independent io.ReadClosers. Each byte read
// from r is forwarded to both outputs. If ctx is canceled, both sides
// subsequently return ctx.Err(), even if the read of r that was in flight
// never completes (the underlying reader's blocking call is abandoned, not
// killed — callers that need a hard stop must cancel r itself, e.g. by
// closing the network connection or process pipe it wraps).
func TeeReader(ctx context.Context, r io.Reader) (a, b io.ReadCloser) {
	pra, pwa := io.Pipe()
	prb, pwb := io.Pipe()

	resultCh := make(chan readResult)
	go func() {
		buf := make([]byte, 256*1024)
		for {
			n, err := r.Read(buf)
			chunk := append([]byte(nil), buf[:n]...)
			resultCh <- readResult{buf: chunk, err: err}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				pwa.CloseWithError(ctx.Err())
				pwb.CloseWithError(ctx.Err())
				return
			case res := <-resultCh:
				if len(res.buf) > 0 {
					if werr := writeAll(pwa, res.buf); werr != nil {
						pwb.CloseWithError(werr)
						return
					}
					if werr := writeAll(pwb, res.buf); werr != nil {
						pwa.CloseWithError(werr)
						return
					}
				}
				if res.err != nil {
					pwa.CloseWithError(res.err)
					pwb.CloseWithError(res.err)
					return
				}
			}
		}
	}()

	return pra, prb
}

func writeAll(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}
