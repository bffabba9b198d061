package obslog_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/artemis/snap2s3/internal/obslog"
	"github.com/stretchr/testify/require"
)

func TestRedactHandlerMasksEmailAndCard(t *testing.T) {
	var buf bytes.Buffer
	h := obslog.NewRedactHandler(slog.NewJSONHandler(&buf, nil))
	l := slog.New(h)

	l.InfoContext(context.Background(), "user action",
		"email", "person@example.com",
		"cc", "4111 1111 1111 1111",
		"status", "ok",
	)

	out := buf.String()
	require.NotContains(t, out, "person@example.com")
	require.NotContains(t, out, "4111 1111 1111 1111")
	require.Contains(t, out, "ok")
}

func BenchmarkRedactHandler(b *testing.B) {
	h := obslog.NewRedactHandler(slog.NewJSONHandler(bytes.NewBuffer(nil), nil))
	l := slog.New(h)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.InfoContext(ctx, "user action",
			"user_id", "12345",
			"email", "user@example.com",
			"status", "success",
		)
	}
}

func TestSamplingHandlerNeverDropsWarnings(t *testing.T) {
	var buf bytes.Buffer
	h := obslog.NewSamplingHandler(slog.NewJSONHandler(&buf, nil), 0.0)
	l := slog.New(h)

	l.WarnContext(context.Background(), "should always appear")
	require.Contains(t, buf.String(), "should always appear")
}
