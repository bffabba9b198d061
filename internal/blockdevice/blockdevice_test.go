package blockdevice_test

import (
	"testing"

	"github.com/artemis/snap2s3/internal/blockdevice"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/stretchr/testify/require"
)

func disk(path string) snapmodel.BlockDevice {
	return snapmodel.BlockDevice{Kind: snapmodel.DeviceDisk, Path: path}
}

func part(path string) snapmodel.BlockDevice {
	return snapmodel.BlockDevice{Kind: snapmodel.DevicePart, Path: path}
}

func TestRawDiskViewRequiresExactlyOneDisk(t *testing.T) {
	d, err := blockdevice.RawDiskView([]snapmodel.BlockDevice{disk("/dev/xvdf")})
	require.NoError(t, err)
	require.Equal(t, "/dev/xvdf", d.Path)

	_, err = blockdevice.RawDiskView([]snapmodel.BlockDevice{disk("/dev/xvdf"), part("/dev/xvdf1")})
	require.Error(t, err)

	_, err = blockdevice.RawDiskView(nil)
	require.Error(t, err)
}

func TestFilesystemViewSingleDeviceReturnedAsIs(t *testing.T) {
	devices := []snapmodel.BlockDevice{disk("/dev/xvdf")}
	got, err := blockdevice.FilesystemView(devices)
	require.NoError(t, err)
	require.Equal(t, devices, got)
}

func TestFilesystemViewDropsDiskKeepsPartitions(t *testing.T) {
	devices := []snapmodel.BlockDevice{disk("/dev/xvdf"), part("/dev/xvdf1"), part("/dev/xvdf2")}
	got, err := blockdevice.FilesystemView(devices)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "/dev/xvdf1", got[0].Path)
	require.Equal(t, "/dev/xvdf2", got[1].Path)
}

func TestFilesystemViewFailsOnUnknownDeviceType(t *testing.T) {
	devices := []snapmodel.BlockDevice{
		disk("/dev/xvdf"),
		part("/dev/xvdf1"),
		{Kind: "loop", Path: "/dev/loop0"},
	}
	_, err := blockdevice.FilesystemView(devices)
	require.Error(t, err)
}

func TestFilesystemViewFailsWithNoPartitions(t *testing.T) {
	devices := []snapmodel.BlockDevice{disk("/dev/xvdf"), disk("/dev/xvdg")}
	_, err := blockdevice.FilesystemView(devices)
	require.Error(t, err)
}
