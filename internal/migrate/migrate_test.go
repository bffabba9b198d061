package migrate_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/claim"
	"github.com/artemis/snap2s3/internal/config"
	ec2memory "github.com/artemis/snap2s3/internal/ec2store/adapters/memory"
	"github.com/artemis/snap2s3/internal/migrate"
	objmemory "github.com/artemis/snap2s3/internal/objectstore/adapters/memory"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/volume"
)

func requireTools(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			t.Skipf("%s not available on PATH", n)
		}
	}
}

type fakeProber struct {
	devices []snapmodel.BlockDevice
}

func (p *fakeProber) Devices(ctx context.Context, diskPath string) ([]snapmodel.BlockDevice, error) {
	return p.devices, nil
}

type noopMounter struct{}

func (noopMounter) Mount(ctx context.Context, device, mountpoint string) error   { return nil }
func (noopMounter) Unmount(ctx context.Context, mountpoint string) error         { return nil }

func testInstance() snapmodel.Instance {
	return snapmodel.Instance{ID: "i-local", Region: "us-east-1", AvailabilityZone: "us-east-1a", AccountID: "111111111111"}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Tag:              "snap2s3",
		MountPoint:       t.TempDir() + "/",
		Bucket:           "test-bucket",
		VolumeType:       "standard",
		CompressionLevel: 1,
		UploadStreams:    2,
		DD:               true,
	}
}

func writeFakeDisk(t *testing.T) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, int64(len(data))
}

func TestMigrateDDModeUploadsRawImage(t *testing.T) {
	requireTools(t, "lz4")
	ctx := context.Background()

	store := ec2memory.New()
	objects := objmemory.New()
	cfg := testConfig(t)
	instance := testInstance()

	snap := &snapmodel.Snapshot{
		ID:        "snap-A",
		VolumeID:  "vol-A",
		SizeGiB:   1,
		StartTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Tags:      map[string]string{cfg.Tag: snapmodel.StateMigrate},
	}
	store.Seed(snap)

	diskPath, size := writeFakeDisk(t)
	prober := &fakeProber{devices: []snapmodel.BlockDevice{{Kind: snapmodel.DeviceDisk, Path: diskPath, SizeBytes: size}}}

	vol := volume.New(store, prober, noopMounter{}, cfg.Tag, cfg.MountPoint, instance)
	coord := claim.New(store, cfg.Tag).WithSettleInterval(time.Millisecond)

	pipeline := migrate.New(store, objects, prober, vol, coord, cfg)
	err := pipeline.Run(ctx, []string{"snap-A"})
	require.NoError(t, err)

	tags, err := store.ReadTags(ctx, "snap-A")
	require.NoError(t, err)
	require.Equal(t, snapmodel.StateMigrated, tags[cfg.Tag])

	head, err := objects.Head(ctx, cfg.Bucket, "vol-A/2024-01-02T03:04:05+00:00 snap-A.img.lz4")
	require.NoError(t, err)
	require.True(t, head.Exists)
}

func TestMigrateIdempotentOnReRun(t *testing.T) {
	requireTools(t, "lz4")
	ctx := context.Background()

	store := ec2memory.New()
	objects := objmemory.New()
	cfg := testConfig(t)
	instance := testInstance()

	snap := &snapmodel.Snapshot{
		ID:        "snap-B",
		VolumeID:  "vol-B",
		StartTime: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Tags:      map[string]string{cfg.Tag: snapmodel.StateMigrate},
	}
	store.Seed(snap)

	diskPath, size := writeFakeDisk(t)
	prober := &fakeProber{devices: []snapmodel.BlockDevice{{Kind: snapmodel.DeviceDisk, Path: diskPath, SizeBytes: size}}}
	vol := volume.New(store, prober, noopMounter{}, cfg.Tag, cfg.MountPoint, instance)
	coord := claim.New(store, cfg.Tag).WithSettleInterval(time.Millisecond)

	pipeline := migrate.New(store, objects, prober, vol, coord, cfg)
	require.NoError(t, pipeline.Run(ctx, []string{"snap-B"}))

	require.NoError(t, store.CreateTags(ctx, "snap-B", map[string]string{cfg.Tag: snapmodel.StateMigrate}))
	require.NoError(t, pipeline.Run(ctx, []string{"snap-B"}), "re-running after the object already exists must detect it via HEAD, not fail")
}

func TestMigrateReturnsSnapshotsMissing(t *testing.T) {
	ctx := context.Background()
	store := ec2memory.New()
	objects := objmemory.New()
	cfg := testConfig(t)
	instance := testInstance()

	prober := &fakeProber{}
	vol := volume.New(store, prober, noopMounter{}, cfg.Tag, cfg.MountPoint, instance)
	coord := claim.New(store, cfg.Tag).WithSettleInterval(time.Millisecond)

	pipeline := migrate.New(store, objects, prober, vol, coord, cfg)
	err := pipeline.Run(ctx, []string{"does-not-exist"})
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.CodeSnapshotsMissing))
}
