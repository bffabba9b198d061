package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artemis/snap2s3/internal/obslog"
)

// Instrumented wraps a Store with tracing and structured logging.
type Instrumented struct {
	next   Store
	tracer trace.Tracer
}

func NewInstrumented(next Store) *Instrumented {
	return &Instrumented{next: next, tracer: otel.Tracer("internal/objectstore")}
}

func (s *Instrumented) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("objectstore.%s", op))
	span.SetAttributes(attribute.String("object.key", key))
	return ctx, span
}

func (s *Instrumented) Put(ctx context.Context, opts PutOptions) error {
	ctx, span := s.startSpan(ctx, "Put", opts.Key)
	defer span.End()

	obslog.L().InfoContext(ctx, "uploading object", "bucket", opts.Bucket, "key", opts.Key, "part_size", opts.PartSize)

	start := time.Now()
	err := s.next.Put(ctx, opts)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obslog.L().ErrorContext(ctx, "upload failed", "bucket", opts.Bucket, "key", opts.Key, "error", err, "duration", duration)
		return err
	}

	obslog.L().InfoContext(ctx, "uploaded object", "bucket", opts.Bucket, "key", opts.Key, "duration", duration)
	return nil
}

func (s *Instrumented) Head(ctx context.Context, bucket, key string) (HeadResult, error) {
	ctx, span := s.startSpan(ctx, "Head", key)
	defer span.End()

	result, err := s.next.Head(ctx, bucket, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obslog.L().ErrorContext(ctx, "head failed", "bucket", bucket, "key", key, "error", err)
		return HeadResult{}, err
	}
	span.SetAttributes(attribute.Bool("object.exists", result.Exists))
	return result, nil
}

func (s *Instrumented) GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	ctx, span := s.startSpan(ctx, "GetRange", key)
	defer span.End()
	span.SetAttributes(attribute.Int64("range.offset", offset), attribute.Int64("range.length", length))

	rc, err := s.next.GetRange(ctx, bucket, key, offset, length)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obslog.L().ErrorContext(ctx, "ranged get failed", "bucket", bucket, "key", key, "error", err)
		return nil, err
	}
	return rc, nil
}
