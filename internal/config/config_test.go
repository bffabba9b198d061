package config_test

import (
	"testing"

	"github.com/artemis/snap2s3/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSkipPartitionDenyList(t *testing.T) {
	cfg := &config.Config{SkipPartitions: []string{"128", "swap"}}

	require.True(t, cfg.SkipPartition("xvdf128"))
	require.True(t, cfg.SkipPartition("xvdg-swap"))
	require.False(t, cfg.SkipPartition("xvdf1"))
}

func TestSkipPartitionAllowList(t *testing.T) {
	cfg := &config.Config{AllowPartitions: []string{"xvdf1"}}

	require.False(t, cfg.SkipPartition("xvdf1"))
	require.True(t, cfg.SkipPartition("xvdf2"))
}

func TestNonceTagKey(t *testing.T) {
	cfg := &config.Config{Tag: "snap2s3"}
	require.Equal(t, "snap2s3-id", cfg.NonceTagKey())
}

func TestLoadRejectsKMSKeyWithoutKMSSSE(t *testing.T) {
	t.Setenv("SNAP2S3_TAG", "snap2s3")
	t.Setenv("SNAP2S3_MOUNT_POINT", "/mnt/snap2s3")
	t.Setenv("SNAP2S3_BUCKET", "my-bucket")
	t.Setenv("SNAP2S3_SSE_KMS_KEY_ID", "abc-123")

	_, err := config.Load()
	require.Error(t, err, "kms key id without sse=aws:kms must fail")
}

func TestLoadSucceedsAndNormalizesTrailingSlash(t *testing.T) {
	t.Setenv("SNAP2S3_TAG", "snap2s3")
	t.Setenv("SNAP2S3_MOUNT_POINT", "/mnt/snap2s3")
	t.Setenv("SNAP2S3_BUCKET", "my-bucket")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "/mnt/snap2s3/", cfg.MountPoint)
	require.Equal(t, 1, cfg.CompressionLevel)
	require.Equal(t, 4, cfg.UploadStreams)
}
