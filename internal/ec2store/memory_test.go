package ec2store_test

import (
	"context"
	"testing"

	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/ec2store/adapters/memory"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreVolumeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	vol, err := store.CreateVolume(ctx, ec2store.CreateVolumeOptions{
		SnapshotID:       "snap-A",
		AvailabilityZone: "us-east-1a",
		VolumeType:       "standard",
		Tags:             map[string]string{"Name": "Temp for snap-to-s3"},
	})
	require.NoError(t, err)
	require.Equal(t, snapmodel.VolumeStateAvailable, vol.State)

	require.NoError(t, store.AttachVolume(ctx, ec2store.AttachVolumeOptions{
		VolumeID: vol.ID, InstanceID: "i-1", Device: "/dev/sdf",
	}))

	got, err := store.GetVolume(ctx, vol.ID)
	require.NoError(t, err)
	require.Equal(t, snapmodel.VolumeStateInUse, got.State)
	att, ok := got.AttachmentFor("i-1")
	require.True(t, ok)
	require.Equal(t, "/dev/sdf", att.Device)

	require.NoError(t, store.DetachVolume(ctx, vol.ID, "i-1"))
	got, err = store.GetVolume(ctx, vol.ID)
	require.NoError(t, err)
	require.Equal(t, snapmodel.VolumeStateAvailable, got.State)

	require.NoError(t, store.DeleteVolume(ctx, vol.ID))
	_, err = store.GetVolume(ctx, vol.ID)
	require.Error(t, err)
}

func TestMemoryStoreDescribeSnapshotsReportsMissing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(&snapmodel.Snapshot{ID: "snap-A", Tags: map[string]string{"env": "prod"}})

	snaps, err := store.DescribeSnapshots(ctx, []string{"snap-A", "snap-ghost"})
	require.Error(t, err)
	require.Len(t, snaps, 1)
}

func TestMemoryStoreTagRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(&snapmodel.Snapshot{ID: "snap-A"})

	require.NoError(t, store.CreateTags(ctx, "snap-A", map[string]string{"migrate": "migrating", "migrate-id": "123"}))
	tags, err := store.ReadTags(ctx, "snap-A")
	require.NoError(t, err)
	require.Equal(t, "migrating", tags["migrate"])

	require.NoError(t, store.DeleteTags(ctx, "snap-A", []string{"migrate-id"}))
	tags, err = store.ReadTags(ctx, "snap-A")
	require.NoError(t, err)
	_, ok := tags["migrate-id"]
	require.False(t, ok)
}
