package memory_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/artemis/snap2s3/internal/objectstore/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestPutHeadGetRangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	data := []byte("0123456789")
	err := store.Put(ctx, objectstore.PutOptions{
		Bucket:   "bucket",
		Key:      "vol-A/key.img.lz4",
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"uncompressed-size": "10"},
	})
	require.NoError(t, err)

	head, err := store.Head(ctx, "bucket", "vol-A/key.img.lz4")
	require.NoError(t, err)
	require.True(t, head.Exists)
	require.Equal(t, int64(10), head.ContentLength)
	require.Equal(t, "10", head.Metadata["uncompressed-size"])

	rc, err := store.GetRange(ctx, "bucket", "vol-A/key.img.lz4", 2, 4)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "2345", string(got))
}

func TestHeadMissingObjectReportsNotExists(t *testing.T) {
	store := memory.New()
	head, err := store.Head(context.Background(), "bucket", "missing")
	require.NoError(t, err)
	require.False(t, head.Exists)
}

func TestGetRangeMissingObjectErrors(t *testing.T) {
	store := memory.New()
	_, err := store.GetRange(context.Background(), "bucket", "missing", 0, -1)
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}
