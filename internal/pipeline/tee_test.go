package pipeline_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/artemis/snap2s3/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestTeeReaderDuplicatesBytesToBothSides(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("abcdefgh"), 10000))
	a, b := pipeline.TeeReader(context.Background(), src)

	var gotA, gotB []byte
	errCh := make(chan error, 2)

	go func() {
		var err error
		gotA, err = io.ReadAll(a)
		errCh <- err
	}()
	go func() {
		var err error
		gotB, err = io.ReadAll(b)
		errCh <- err
	}()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)
	require.Equal(t, gotA, gotB)
	require.Len(t, gotA, 80000)
}

func TestTeeReaderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	a, b := pipeline.TeeReader(ctx, pr)

	cancel()
	_ = pw

	_, errA := io.ReadAll(a)
	_, errB := io.ReadAll(b)
	require.Error(t, errA)
	require.Error(t, errB)
}
