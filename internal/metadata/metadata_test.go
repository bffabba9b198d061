package metadata_test

import (
	"context"
	"testing"

	"github.com/artemis/snap2s3/internal/metadata"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/stretchr/testify/require"
)

func TestStaticResolverReturnsFixedInstance(t *testing.T) {
	want := snapmodel.Instance{ID: "i-0123456789abcdef0", Region: "us-east-1", AvailabilityZone: "us-east-1a", AccountID: "111122223333"}
	r := metadata.StaticResolver{Instance: want}

	got, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDeviceLetterRangeCoversReservedLetters(t *testing.T) {
	devices := metadata.DeviceLetterRange()
	require.Equal(t, "/dev/sdf", devices[0])
	require.Equal(t, "/dev/sdp", devices[len(devices)-1])
	require.Len(t, devices, 11)
}

func TestKernelDeviceNameMapsSdToXvd(t *testing.T) {
	require.Equal(t, "/dev/xvdf", metadata.KernelDeviceName("/dev/sdf"))
	require.Equal(t, "/dev/other", metadata.KernelDeviceName("/dev/other"))
}
