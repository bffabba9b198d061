// Package blockdevice enumerates the kernel-visible block devices backing
// an attached volume and provides the two filtering views migration and
// validation need: the raw-disk view (dd mode) and the filesystem view
// (tar mode).
package blockdevice

import (
	"context"
	"encoding/json"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/subprocess"
)

// lsblkOutput mirrors `lsblk --json -b -o NAME,TYPE,FSTYPE,MOUNTPOINT,SIZE,PATH`.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Type       string        `json:"type"`
	FSType     *string       `json:"fstype"`
	Mountpoint *string       `json:"mountpoint"`
	Size       int64         `json:"size"`
	Children   []lsblkDevice `json:"children"`
}

// Prober enumerates the block devices for an attached volume.
type Prober interface {
	Devices(ctx context.Context, diskPath string) ([]snapmodel.BlockDevice, error)
}

// LsblkProber shells out to lsblk, one of the required external tools.
type LsblkProber struct{}

func NewLsblkProber() *LsblkProber {
	return &LsblkProber{}
}

// Devices enumerates the disk at diskPath and every partition beneath it.
func (p *LsblkProber) Devices(ctx context.Context, diskPath string) ([]snapmodel.BlockDevice, error) {
	out, err := subprocess.Run(ctx, "lsblk", "lsblk", "--json", "-b",
		"-o", "NAME,TYPE,FSTYPE,MOUNTPOINT,SIZE,PATH", diskPath)
	if err != nil {
		return nil, err
	}

	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, apperrors.Pipeline("failed to parse lsblk output", err)
	}

	var devices []snapmodel.BlockDevice
	for _, d := range parsed.BlockDevices {
		devices = append(devices, flatten(d)...)
	}
	return devices, nil
}

func flatten(d lsblkDevice) []snapmodel.BlockDevice {
	kind := snapmodel.DeviceDisk
	if d.Type == "part" {
		kind = snapmodel.DevicePart
	}

	fsType := ""
	if d.FSType != nil {
		fsType = *d.FSType
	}
	mountpoint := ""
	if d.Mountpoint != nil {
		mountpoint = *d.Mountpoint
	}

	partitionName := ""
	if kind == snapmodel.DevicePart {
		partitionName = d.Name
	}

	out := []snapmodel.BlockDevice{{
		Kind:          kind,
		Path:          d.Path,
		FSType:        fsType,
		Mountpoint:    mountpoint,
		PartitionName: partitionName,
		SizeBytes:     d.Size,
	}}

	for _, c := range d.Children {
		out = append(out, flatten(c)...)
	}
	return out
}

// RawDiskView asserts exactly one device of type disk and returns it. Used
// by dd mode.
func RawDiskView(devices []snapmodel.BlockDevice) (snapmodel.BlockDevice, error) {
	var disk *snapmodel.BlockDevice
	for i := range devices {
		if devices[i].Kind == snapmodel.DeviceDisk {
			if disk != nil {
				return snapmodel.BlockDevice{}, apperrors.Pipeline("expected exactly one disk device, found more than one", nil)
			}
			disk = &devices[i]
		}
	}
	if disk == nil {
		return snapmodel.BlockDevice{}, apperrors.Pipeline("expected exactly one disk device, found none", nil)
	}
	return *disk, nil
}

// FilesystemView returns the partitions to archive in tar mode.
//
// If the list has a single device, that device is returned directly
// (volume has no partition table, the lone disk entry is the filesystem).
// Otherwise the single disk entry is dropped, every remaining entry must be
// of type part, and the resulting count must equal the original count
// minus one.
func FilesystemView(devices []snapmodel.BlockDevice) ([]snapmodel.BlockDevice, error) {
	if len(devices) == 1 {
		return devices, nil
	}

	var partitions []snapmodel.BlockDevice
	diskSeen := 0
	for _, d := range devices {
		if d.Kind == snapmodel.DeviceDisk {
			diskSeen++
			continue
		}
		if d.Kind != snapmodel.DevicePart {
			return nil, apperrors.Pipeline("unknown device type", nil)
		}
		partitions = append(partitions, d)
	}

	if len(partitions) == 0 {
		return nil, apperrors.Pipeline("no partitions", nil)
	}
	if len(partitions) != len(devices)-1 {
		return nil, apperrors.Pipeline("unknown device type", nil)
	}

	return partitions, nil
}
