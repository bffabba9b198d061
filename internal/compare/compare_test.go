package compare_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artemis/snap2s3/internal/compare"
	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/artemis/snap2s3/internal/objectstore/adapters/memory"
)

func requireLZ4(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("lz4"); err != nil {
		t.Skip("lz4 not available on PATH")
	}
}

func lz4Compress(t *testing.T, data []byte) []byte {
	t.Helper()
	cmd := exec.Command("lz4", "-c")
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()
	require.NoError(t, err)
	return out
}

func TestValidateFileAgainstCompressedObjectMatches(t *testing.T) {
	requireLZ4(t)
	ctx := context.Background()

	raw := bytes.Repeat([]byte("snapshot-bytes"), 4096)
	compressed := lz4Compress(t, raw)

	store := memory.New()
	require.NoError(t, store.Put(ctx, objectstore.PutOptions{Bucket: "b", Key: "snap.img.lz4", Body: bytes.NewReader(compressed)}))

	result, err := compare.ValidateFileAgainstCompressedObject(ctx, store, "b", "snap.img.lz4", bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.True(t, result.OK())

	want := md5.Sum(raw)
	require.Equal(t, hex.EncodeToString(want[:]), result.LocalMD5)
	require.Equal(t, result.LocalMD5, result.RemoteMD5)
}

func TestValidateFileAgainstCompressedObjectDetectsMismatch(t *testing.T) {
	requireLZ4(t)
	ctx := context.Background()

	raw := bytes.Repeat([]byte("original-bytes-"), 4096)
	tampered := append([]byte{}, raw...)
	tampered[0] ^= 0xFF
	compressed := lz4Compress(t, tampered)

	store := memory.New()
	require.NoError(t, store.Put(ctx, objectstore.PutOptions{Bucket: "b", Key: "snap.img.lz4", Body: bytes.NewReader(compressed)}))

	result, err := compare.ValidateFileAgainstCompressedObject(ctx, store, "b", "snap.img.lz4", bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.False(t, result.OK())
}

func TestValidateDirectoryAgainstTarObjectMatches(t *testing.T) {
	requireLZ4(t)
	tarBin, err := exec.LookPath("tar")
	if err != nil {
		t.Skip("tar not available on PATH")
	}
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b"), []byte("nested file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.b"), []byte("sibling-looking file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top"), []byte("top-level file"), 0o644))

	tarCmd := exec.Command(tarBin, "-cf", "-", ".")
	tarCmd.Dir = dir
	tarOut, err := tarCmd.Output()
	require.NoError(t, err)
	compressed := lz4Compress(t, tarOut)

	store := memory.New()
	require.NoError(t, store.Put(ctx, objectstore.PutOptions{Bucket: "b", Key: "snap-part.tar.lz4", Body: bytes.NewReader(compressed)}))

	result, err := compare.ValidateDirectoryAgainstTarObject(ctx, store, "b", "snap-part.tar.lz4", dir)
	require.NoError(t, err)
	require.Empty(t, result.Differences)
	require.Equal(t, 3, result.Matched)
}
