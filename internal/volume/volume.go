// Package volume implements VolumeLifecycle: find-or-create a temporary
// volume from a snapshot, find-or-attach it to this instance, wait for the
// kernel to show its partitions, mount/unmount partitions under the
// configured mount root, and tear the volume down (or leave it, in "keep"
// mode) once migration or validation finishes with it.
package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/blockdevice"
	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/metadata"
	"github.com/artemis/snap2s3/internal/obslog"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/subprocess"
)

// Poll budgets named explicitly in the specification: attachment wait
// (10s/60 attempts) and partition-visibility wait (4s/75 attempts). These
// are design constants, not tunables — a port must not shorten them to
// "speed up" the wait, the same way the claim protocol's settle interval
// must not be shortened.
const (
	attachPollInterval    = 10 * time.Second
	attachMaxAttempts     = 60
	partitionPollInterval = 4 * time.Second
	partitionMaxAttempts  = 75
)

// Mounter mounts and unmounts a block device at a path. SubprocessMounter
// is the production implementation (shelling out to mount/umount, two of
// the required external tools); tests substitute a fake.
type Mounter interface {
	Mount(ctx context.Context, device, mountpoint string) error
	Unmount(ctx context.Context, mountpoint string) error
}

// SubprocessMounter mounts read-only via the mount/umount binaries on
// PATH.
type SubprocessMounter struct{}

// NewSubprocessMounter builds the production Mounter.
func NewSubprocessMounter() SubprocessMounter {
	return SubprocessMounter{}
}

func (m SubprocessMounter) Mount(ctx context.Context, device, mountpoint string) error {
	_, err := subprocess.Run(ctx, "mount", "mount", "-o", "ro", device, mountpoint)
	return err
}

func (m SubprocessMounter) Unmount(ctx context.Context, mountpoint string) error {
	_, err := subprocess.Run(ctx, "umount", "umount", mountpoint)
	return err
}

// Lifecycle drives the temporary-volume lifecycle against a single EC2
// account/region, for a single running instance.
type Lifecycle struct {
	store     ec2store.Store
	prober    blockdevice.Prober
	mounter   Mounter
	tagKey    string
	mountRoot string
	instance  snapmodel.Instance
	tracer    trace.Tracer
}

// New builds a Lifecycle. mountRoot must already be normalized (trailing
// slash, not empty, not "/") — internal/config does that normalization at
// load time.
func New(store ec2store.Store, prober blockdevice.Prober, mounter Mounter, tagKey, mountRoot string, instance snapmodel.Instance) *Lifecycle {
	return &Lifecycle{
		store:     store,
		prober:    prober,
		mounter:   mounter,
		tagKey:    tagKey,
		mountRoot: mountRoot,
		instance:  instance,
		tracer:    otel.Tracer("internal/volume"),
	}
}

// FindOrCreateVolume looks up an existing temporary volume tagged for this
// snapshot (excluding any attached to a different instance); if none is
// found, it creates one from the snapshot and waits for it to become
// available.
func (l *Lifecycle) FindOrCreateVolume(ctx context.Context, snap *snapmodel.Snapshot, volumeType string) (*snapmodel.Volume, error) {
	ctx, span := l.tracer.Start(ctx, "volume.FindOrCreateVolume", trace.WithAttributes(attribute.String("snapshot.id", snap.ID)))
	defer span.End()

	existing, err := l.store.ListVolumes(ctx, ec2store.ListVolumesOptions{TagKey: l.tagKey, SourceSnap: snap.ID})
	if err != nil {
		return nil, l.fail(span, apperrors.Pipeline("failed to list candidate temporary volumes", err))
	}

	for _, v := range existing {
		if attachedElsewhere(v, l.instance.ID) {
			continue
		}
		if err := l.waitVolumeState(ctx, v.ID, snapmodel.VolumeStateAvailable, snapmodel.VolumeStateInUse); err != nil {
			return nil, l.fail(span, err)
		}
		adopted, err := l.store.GetVolume(ctx, v.ID)
		if err != nil {
			return nil, l.fail(span, apperrors.Pipeline("failed to refresh adopted volume", err))
		}
		obslog.L().InfoContext(ctx, "adopted existing temporary volume", "volume_id", adopted.ID, "snapshot_id", snap.ID)
		return adopted, nil
	}

	created, err := l.store.CreateVolume(ctx, ec2store.CreateVolumeOptions{
		SnapshotID:       snap.ID,
		AvailabilityZone: l.instance.AvailabilityZone,
		VolumeType:       volumeType,
		Tags: map[string]string{
			"Name":   "Temp for snap-to-s3",
			l.tagKey: snapmodel.TempVolumeInProgressValue,
		},
	})
	if err != nil {
		return nil, l.fail(span, apperrors.Pipeline("failed to create temporary volume", err))
	}

	if err := l.waitVolumeState(ctx, created.ID, snapmodel.VolumeStateAvailable); err != nil {
		return nil, l.fail(span, err)
	}

	obslog.L().InfoContext(ctx, "created temporary volume", "volume_id", created.ID, "snapshot_id", snap.ID)
	return l.store.GetVolume(ctx, created.ID)
}

func attachedElsewhere(v *snapmodel.Volume, instanceID string) bool {
	for _, a := range v.Attachments {
		if a.InstanceID != "" && a.InstanceID != instanceID {
			return true
		}
	}
	return false
}

// FindOrAttach attaches vol to this instance if it isn't already, picking
// the first free attachment device letter in the reserved range, then
// waits for the kernel to report the device. It returns the device path
// the kernel actually exposes (which may differ from the one requested on
// Nitro-based instances).
func (l *Lifecycle) FindOrAttach(ctx context.Context, vol *snapmodel.Volume) (string, error) {
	ctx, span := l.tracer.Start(ctx, "volume.FindOrAttach", trace.WithAttributes(attribute.String("volume.id", vol.ID)))
	defer span.End()

	if att, ok := vol.AttachmentFor(l.instance.ID); ok {
		kernelDevice := metadata.KernelDeviceName(att.Device)
		if att.State == snapmodel.AttachmentAttached {
			return kernelDevice, nil
		}
		if err := l.waitAttached(ctx, vol.ID); err != nil {
			return "", l.fail(span, err)
		}
		return kernelDevice, nil
	}

	device, err := l.pickDevice(ctx)
	if err != nil {
		return "", l.fail(span, err)
	}

	if err := l.store.AttachVolume(ctx, ec2store.AttachVolumeOptions{
		VolumeID:   vol.ID,
		InstanceID: l.instance.ID,
		Device:     device,
	}); err != nil {
		return "", l.fail(span, apperrors.Pipeline(fmt.Sprintf("failed to attach volume %s", vol.ID), err))
	}

	kernelDevice := metadata.KernelDeviceName(device)
	if err := pollUntil(ctx, attachPollInterval, attachMaxAttempts, func(ctx context.Context) (bool, error) {
		_, err := l.prober.Devices(ctx, kernelDevice)
		return err == nil, nil
	}); err != nil {
		return "", l.fail(span, apperrors.Pipeline(fmt.Sprintf("timed out waiting for %s to appear", kernelDevice), err))
	}

	obslog.L().InfoContext(ctx, "attached temporary volume", "volume_id", vol.ID, "device", kernelDevice)
	return kernelDevice, nil
}

func (l *Lifecycle) pickDevice(ctx context.Context) (string, error) {
	inUseVolumes, err := l.store.ListVolumes(ctx, ec2store.ListVolumesOptions{AttachedToInstance: l.instance.ID})
	if err != nil {
		return "", apperrors.Pipeline("failed to list volumes attached to this instance", err)
	}

	inUse := make(map[string]bool)
	for _, v := range inUseVolumes {
		if att, ok := v.AttachmentFor(l.instance.ID); ok {
			inUse[att.Device] = true
		}
	}

	for _, d := range metadata.DeviceLetterRange() {
		if !inUse[d] {
			return d, nil
		}
	}
	return "", apperrors.Pipeline("no free attachment device letters available on this instance", nil)
}

func (l *Lifecycle) waitAttached(ctx context.Context, volumeID string) error {
	return pollUntil(ctx, attachPollInterval, attachMaxAttempts, func(ctx context.Context) (bool, error) {
		v, err := l.store.GetVolume(ctx, volumeID)
		if err != nil {
			return false, err
		}
		att, ok := v.AttachmentFor(l.instance.ID)
		return ok && att.State == snapmodel.AttachmentAttached, nil
	})
}

func (l *Lifecycle) waitVolumeState(ctx context.Context, volumeID string, acceptable ...snapmodel.VolumeState) error {
	err := pollUntil(ctx, attachPollInterval, attachMaxAttempts, func(ctx context.Context) (bool, error) {
		v, err := l.store.GetVolume(ctx, volumeID)
		if err != nil {
			return false, err
		}
		for _, s := range acceptable {
			if v.State == s {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("timed out waiting for volume %s to reach an acceptable state", volumeID), err)
	}
	return nil
}

// WaitForPartitions blocks until the kernel's block-device enumeration for
// diskPath shows at least one partition, or a single disk entry if the
// volume has no partition table.
func (l *Lifecycle) WaitForPartitions(ctx context.Context, diskPath string) ([]snapmodel.BlockDevice, error) {
	var devices []snapmodel.BlockDevice
	err := pollUntil(ctx, partitionPollInterval, partitionMaxAttempts, func(ctx context.Context) (bool, error) {
		d, err := l.prober.Devices(ctx, diskPath)
		if err != nil {
			return false, err
		}
		devices = d
		if len(d) == 1 && d[0].Kind == snapmodel.DeviceDisk {
			return true, nil
		}
		for _, dev := range d {
			if dev.Kind == snapmodel.DevicePart {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, apperrors.Pipeline("timed out waiting for partitions to become visible", err)
	}
	return devices, nil
}

// Mount mounts devicePath read-only under <mountRoot>/<snapshotId>[-<partitionName>],
// refusing if that directory already exists and is non-empty, and treating
// an already-mounted target as success.
func (l *Lifecycle) Mount(ctx context.Context, devicePath, snapshotID, partitionName string) (string, error) {
	name := snapshotID
	if partitionName != "" {
		name += "-" + partitionName
	}
	mountpoint := filepath.Join(l.mountRoot, name)

	mounted, err := isMounted(mountpoint)
	if err != nil {
		return "", apperrors.Pipeline(fmt.Sprintf("failed to inspect current mounts for %s", mountpoint), err)
	}
	if mounted {
		return mountpoint, nil
	}

	entries, err := os.ReadDir(mountpoint)
	if err == nil && len(entries) > 0 {
		return "", apperrors.Pipeline(fmt.Sprintf("mountpoint %s is not empty", mountpoint), nil)
	}
	if err != nil && !os.IsNotExist(err) {
		return "", apperrors.Pipeline(fmt.Sprintf("failed to inspect mountpoint %s", mountpoint), err)
	}

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return "", apperrors.Pipeline(fmt.Sprintf("failed to create mountpoint %s", mountpoint), err)
	}

	if err := l.mounter.Mount(ctx, devicePath, mountpoint); err != nil {
		return "", apperrors.Pipeline(fmt.Sprintf("failed to mount %s at %s", devicePath, mountpoint), err)
	}
	return mountpoint, nil
}

func isMounted(mountpoint string) (bool, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == mountpoint {
			return true, nil
		}
	}
	return false, nil
}

// Unmount unmounts mountpoint and removes the directory, tolerating a
// non-empty-directory removal failure with a warning rather than an error.
func (l *Lifecycle) Unmount(ctx context.Context, mountpoint string) error {
	if err := l.mounter.Unmount(ctx, mountpoint); err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to unmount %s", mountpoint), err)
	}
	if err := os.Remove(mountpoint); err != nil {
		obslog.L().WarnContext(ctx, "failed to remove mountpoint directory", "mountpoint", mountpoint, "error", err)
	}
	return nil
}

// Destroy tears a temporary volume down: unless keep is set, detach, wait
// for available, and delete. In keep mode it leaves the volume attached,
// since that mode is an operator-debug affordance rather than a normal run
// mode. Destroy does not unmount anything; in tar mode the pipelines
// unmount each partition after processing it, in keep mode as well.
func (l *Lifecycle) Destroy(ctx context.Context, vol *snapmodel.Volume, keep bool) error {
	ctx, span := l.tracer.Start(ctx, "volume.Destroy", trace.WithAttributes(attribute.String("volume.id", vol.ID)))
	defer span.End()

	if keep {
		obslog.L().WarnContext(ctx, "keep-temp-volumes is set: leaving temporary volume attached", "volume_id", vol.ID)
		return nil
	}

	if err := l.store.DetachVolume(ctx, vol.ID, l.instance.ID); err != nil {
		return l.fail(span, apperrors.Pipeline(fmt.Sprintf("failed to detach volume %s", vol.ID), err))
	}
	if err := l.waitVolumeState(ctx, vol.ID, snapmodel.VolumeStateAvailable); err != nil {
		return l.fail(span, err)
	}
	if err := l.store.DeleteVolume(ctx, vol.ID); err != nil {
		return l.fail(span, apperrors.Pipeline(fmt.Sprintf("failed to delete volume %s", vol.ID), err))
	}
	return nil
}

func (l *Lifecycle) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// pollUntil calls cond at a fixed interval (checking immediately on the
// first iteration) until it reports true, the attempt budget is
// exhausted, or ctx is canceled. A cond error is treated as "not ready
// yet" and logged at debug level rather than aborting the poll, since the
// kernel/API resource being waited on is often legitimately not visible
// yet on early attempts.
func pollUntil(ctx context.Context, interval time.Duration, maxAttempts int, cond func(context.Context) (bool, error)) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := cond(ctx)
		if err != nil {
			obslog.L().DebugContext(ctx, "poll attempt not ready, retrying", "attempt", attempt, "error", err)
		} else if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return apperrors.Pipeline("exhausted poll attempts", nil)
}
