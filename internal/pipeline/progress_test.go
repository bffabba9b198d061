package pipeline_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/artemis/snap2s3/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestCountingReaderTracksBytesRead(t *testing.T) {
	src := bytes.NewReader(make([]byte, 4096))
	cr := pipeline.NewCountingReader(src)

	buf := make([]byte, 1024)
	n, err := cr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.EqualValues(t, 1024, cr.Count())

	_, _ = cr.Read(buf)
	require.EqualValues(t, 2048, cr.Count())
}

func TestProgressMeterStopsCleanly(t *testing.T) {
	src := bytes.NewReader(make([]byte, 100))
	cr := pipeline.NewCountingReader(src)
	_, _ = cr.Read(make([]byte, 100))

	meter := pipeline.NewProgressMeter("test", 100, cr)
	meter.Start(context.Background(), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	meter.Stop()
}
