// Package validate implements ValidationPipeline: per snapshot, bring up
// a temporary volume, decide dd-mode or tar-mode by which object key
// exists, and run the matching dual-hash comparison against the source.
package validate

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/blockdevice"
	"github.com/artemis/snap2s3/internal/claim"
	"github.com/artemis/snap2s3/internal/compare"
	"github.com/artemis/snap2s3/internal/config"
	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/obslog"
	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/subprocess"
	"github.com/artemis/snap2s3/internal/volume"
)

// Pipeline drives ValidationPipeline over a list or the full eligible set
// of snapshots.
type Pipeline struct {
	store   ec2store.Store
	objects objectstore.Store
	prober  blockdevice.Prober
	volumes *volume.Lifecycle
	coord   *claim.Coordinator
	cfg     *config.Config
	tracer  trace.Tracer
}

// New builds a validation Pipeline.
func New(store ec2store.Store, objects objectstore.Store, prober blockdevice.Prober, volumes *volume.Lifecycle, coord *claim.Coordinator, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:   store,
		objects: objects,
		prober:  prober,
		volumes: volumes,
		coord:   coord,
		cfg:     cfg,
		tracer:  otel.Tracer("internal/validate"),
	}
}

// Run validates the given snapshot ids, or the full tag-eligible set when
// ids is empty. Unlike migration, validation keeps going past failures and
// reports an aggregate at the end.
func (p *Pipeline) Run(ctx context.Context, ids []string) error {
	snaps, err := p.gather(ctx, ids)
	if err != nil {
		return err
	}

	agg := apperrors.NewAggregate()
	for _, snap := range snaps {
		err := p.validateOne(ctx, snap)
		if err != nil && apperrors.Is(err, apperrors.CodeClaimLost) {
			obslog.L().InfoContext(ctx, "snapshot claimed by another worker, skipping", "snapshot_id", snap.ID)
			continue
		}
		agg.Add(snap.ID, err)
	}

	if agg.HasFailures() {
		return agg
	}
	return nil
}

func (p *Pipeline) gather(ctx context.Context, ids []string) ([]*snapmodel.Snapshot, error) {
	if len(ids) == 0 {
		snaps, err := p.store.DescribeSnapshotsByTag(ctx, p.cfg.Tag, snapmodel.StateMigrated)
		if err != nil {
			return nil, apperrors.Pipeline("failed to list validation-eligible snapshots", err)
		}
		return snaps, nil
	}

	snaps, err := p.store.DescribeSnapshots(ctx, ids)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeSnapshotsMissing) {
			return nil, err
		}
		return nil, apperrors.Pipeline("failed to describe requested snapshots", err)
	}
	return snaps, nil
}

func (p *Pipeline) validateOne(ctx context.Context, snap *snapmodel.Snapshot) error {
	ctx, span := p.tracer.Start(ctx, "validate.validateOne", trace.WithAttributes(attribute.String("snapshot.id", snap.ID)))
	defer span.End()

	priorState, _ := snap.Tag(p.cfg.Tag)

	if err := p.coord.Claim(ctx, snap.ID, snapmodel.StateValidating); err != nil {
		if !apperrors.Is(err, apperrors.CodeClaimLost) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}

	succeeded := false
	defer func() {
		if succeeded {
			if err := p.coord.Complete(ctx, snap.ID, snapmodel.StateValidated); err != nil {
				obslog.L().ErrorContext(ctx, "failed to write terminal validated state", "snapshot_id", snap.ID, "error", err)
			}
			return
		}
		if err := p.coord.Recover(ctx, snap.ID, claim.ValidationRecoveryState(priorState)); err != nil {
			obslog.L().ErrorContext(ctx, "failed to write validation recovery state", "snapshot_id", snap.ID, "error", err)
		}
	}()

	if err := p.validateSnapshot(ctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperrors.WithSnapshot(err, snap.ID)
	}

	succeeded = true
	return nil
}

func (p *Pipeline) validateSnapshot(ctx context.Context, snap *snapmodel.Snapshot) error {
	vol, err := p.volumes.FindOrCreateVolume(ctx, snap, p.cfg.VolumeType)
	if err != nil {
		return err
	}

	diskPath, err := p.volumes.FindOrAttach(ctx, vol)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.volumes.Destroy(ctx, vol, p.cfg.KeepTempVolumes); err != nil {
			obslog.L().ErrorContext(ctx, "failed to tear down temporary volume", "volume_id", vol.ID, "error", err)
		}
	}()

	devices, err := p.volumes.WaitForPartitions(ctx, diskPath)
	if err != nil {
		return apperrors.Pipeline("failed to probe block devices", err)
	}

	rawKey := snapmodel.ObjectKey(vol, snap, "", snapmodel.ModeDD)
	head, err := p.objects.Head(ctx, p.cfg.Bucket, rawKey)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to check for raw image object %s", rawKey), err)
	}
	if head.Exists {
		return p.validateDD(ctx, devices, rawKey)
	}
	return p.validateTar(ctx, vol, snap, devices)
}

func (p *Pipeline) validateDD(ctx context.Context, devices []snapmodel.BlockDevice, key string) error {
	disk, err := blockdevice.RawDiskView(devices)
	if err != nil {
		return err
	}

	f, err := os.Open(disk.Path)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to open raw device %s", disk.Path), err)
	}
	defer f.Close()

	result, err := compare.ValidateFileAgainstCompressedObject(ctx, p.objects, p.cfg.Bucket, key, f, disk.SizeBytes)
	if err != nil {
		return apperrors.Wrap(err, "validation failed")
	}
	if !result.OK() {
		return apperrors.Validation(fmt.Sprintf("hash mismatch: local=%s remote=%s", result.LocalMD5, result.RemoteMD5), nil)
	}
	return nil
}

func (p *Pipeline) validateTar(ctx context.Context, vol *snapmodel.Volume, snap *snapmodel.Snapshot, devices []snapmodel.BlockDevice) error {
	partitions, err := blockdevice.FilesystemView(devices)
	if err != nil {
		return err
	}

	for _, part := range partitions {
		if p.cfg.SkipPartition(part.PartitionName) {
			obslog.L().InfoContext(ctx, "skipping partition per configuration", "partition", part.PartitionName)
			continue
		}

		if err := p.validateOnePartition(ctx, vol, snap, part); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) validateOnePartition(ctx context.Context, vol *snapmodel.Volume, snap *snapmodel.Snapshot, part snapmodel.BlockDevice) error {
	key := snapmodel.ObjectKey(vol, snap, part.PartitionName, snapmodel.ModeTar)

	head, err := p.objects.Head(ctx, p.cfg.Bucket, key)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to check for partition tar object %s", key), err)
	}
	if !head.Exists {
		return apperrors.Validation(fmt.Sprintf("missing remote object for partition %s: %s", part.PartitionName, key), nil)
	}

	mountpoint, err := p.volumes.Mount(ctx, part.Path, snap.ID, part.PartitionName)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.volumes.Unmount(ctx, mountpoint); err != nil {
			obslog.L().ErrorContext(ctx, "failed to unmount partition", "mountpoint", mountpoint, "error", err)
		}
	}()

	if _, err := subprocess.DiskUsageBytes(ctx, mountpoint); err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to measure size of %s", mountpoint), err)
	}

	result, err := compare.ValidateDirectoryAgainstTarObject(ctx, p.objects, p.cfg.Bucket, key, mountpoint)
	if err != nil {
		return apperrors.Wrap(err, "validation failed")
	}
	if !result.OK() {
		return apperrors.Validation(fmt.Sprintf("found %d mismatches for partition %s", len(result.Differences), part.PartitionName), nil)
	}
	return nil
}
