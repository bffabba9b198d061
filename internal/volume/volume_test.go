package volume_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/ec2store/adapters/memory"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/volume"
)

type fakeProber struct {
	devices []snapmodel.BlockDevice
}

func (p *fakeProber) Devices(ctx context.Context, diskPath string) ([]snapmodel.BlockDevice, error) {
	return p.devices, nil
}

type fakeMounter struct {
	mounted map[string]string
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounted: make(map[string]string)}
}

func (m *fakeMounter) Mount(ctx context.Context, device, mountpoint string) error {
	m.mounted[mountpoint] = device
	return nil
}

func (m *fakeMounter) Unmount(ctx context.Context, mountpoint string) error {
	delete(m.mounted, mountpoint)
	return nil
}

func testInstance() snapmodel.Instance {
	return snapmodel.Instance{ID: "i-local", Region: "us-east-1", AvailabilityZone: "us-east-1a", AccountID: "111111111111"}
}

func TestFindOrCreateVolumeCreatesWhenNoneExists(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(&snapmodel.Snapshot{ID: "snap-A", VolumeID: "vol-src"})

	lc := volume.New(store, &fakeProber{}, newFakeMounter(), "migrate", t.TempDir()+"/", testInstance())

	vol, err := lc.FindOrCreateVolume(ctx, &snapmodel.Snapshot{ID: "snap-A"}, "standard")
	require.NoError(t, err)
	require.Equal(t, snapmodel.VolumeStateAvailable, vol.State)
	require.Equal(t, snapmodel.TempVolumeInProgressValue, vol.Tags["migrate"])
}

func TestFindOrCreateVolumeAdoptsExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(&snapmodel.Snapshot{ID: "snap-B"})

	lc := volume.New(store, &fakeProber{}, newFakeMounter(), "migrate", t.TempDir()+"/", testInstance())

	first, err := lc.FindOrCreateVolume(ctx, &snapmodel.Snapshot{ID: "snap-B"}, "standard")
	require.NoError(t, err)

	second, err := lc.FindOrCreateVolume(ctx, &snapmodel.Snapshot{ID: "snap-B"}, "standard")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "a second call for the same snapshot must adopt the existing temporary volume, not create another")
}

func TestFindOrAttachPicksFreeDeviceAndWaitsForKernel(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	instance := testInstance()

	vol, err := store.CreateVolume(ctx, ec2store.CreateVolumeOptions{
		SnapshotID:       "snap-C",
		AvailabilityZone: instance.AvailabilityZone,
		VolumeType:       "standard",
	})
	require.NoError(t, err)

	lc := volume.New(store, &fakeProber{devices: []snapmodel.BlockDevice{{Kind: snapmodel.DeviceDisk, Path: "/dev/xvdf"}}}, newFakeMounter(), "migrate", t.TempDir()+"/", instance)

	device, err := lc.FindOrAttach(ctx, vol)
	require.NoError(t, err)
	require.Contains(t, device, "/dev/xvd")
}

func TestFindOrAttachIsIdempotentForAlreadyAttachedVolume(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	instance := testInstance()

	vol, err := store.CreateVolume(ctx, ec2store.CreateVolumeOptions{SnapshotID: "snap-D", AvailabilityZone: instance.AvailabilityZone})
	require.NoError(t, err)

	lc := volume.New(store, &fakeProber{devices: []snapmodel.BlockDevice{{Kind: snapmodel.DeviceDisk}}}, newFakeMounter(), "migrate", t.TempDir()+"/", instance)

	first, err := lc.FindOrAttach(ctx, vol)
	require.NoError(t, err)

	refreshed, err := store.GetVolume(ctx, vol.ID)
	require.NoError(t, err)

	second, err := lc.FindOrAttach(ctx, refreshed)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMountRefusesNonEmptyMountpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	mountRoot := t.TempDir()
	existing := filepath.Join(mountRoot, "snap-X")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "leftover"), []byte("x"), 0o644))

	lc := volume.New(store, &fakeProber{}, newFakeMounter(), "migrate", mountRoot+"/", testInstance())
	_, err := lc.Mount(ctx, "/dev/xvdf1", "snap-X", "")
	require.Error(t, err)
}

func TestMountThenUnmountRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mounter := newFakeMounter()

	mountRoot := t.TempDir()
	lc := volume.New(store, &fakeProber{}, mounter, "migrate", mountRoot+"/", testInstance())

	mountpoint, err := lc.Mount(ctx, "/dev/xvdf1", "snap-Y", "xvdf1")
	require.NoError(t, err)
	require.Equal(t, "/dev/xvdf1", mounter.mounted[mountpoint])

	require.NoError(t, lc.Unmount(ctx, mountpoint))
	_, stillMounted := mounter.mounted[mountpoint]
	require.False(t, stillMounted)
}

func TestDestroyLeavesVolumeAloneWhenKeepIsSet(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	instance := testInstance()

	vol, err := store.CreateVolume(ctx, ec2store.CreateVolumeOptions{SnapshotID: "snap-Z", AvailabilityZone: instance.AvailabilityZone})
	require.NoError(t, err)

	lc := volume.New(store, &fakeProber{}, newFakeMounter(), "migrate", t.TempDir()+"/", instance)
	require.NoError(t, lc.Destroy(ctx, vol, true))

	still, err := store.GetVolume(ctx, vol.ID)
	require.NoError(t, err)
	require.NotNil(t, still)
}

func TestDestroyDetachesAndDeletesWhenNotKeeping(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	instance := testInstance()

	vol, err := store.CreateVolume(ctx, ec2store.CreateVolumeOptions{SnapshotID: "snap-W", AvailabilityZone: instance.AvailabilityZone})
	require.NoError(t, err)
	require.NoError(t, store.AttachVolume(ctx, ec2store.AttachVolumeOptions{VolumeID: vol.ID, InstanceID: instance.ID, Device: "/dev/sdf"}))

	lc := volume.New(store, &fakeProber{}, newFakeMounter(), "migrate", t.TempDir()+"/", instance)

	attached, err := store.GetVolume(ctx, vol.ID)
	require.NoError(t, err)

	require.NoError(t, lc.Destroy(ctx, attached, false))

	_, err = store.GetVolume(ctx, vol.ID)
	require.Error(t, err)
}
