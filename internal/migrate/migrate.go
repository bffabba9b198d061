// Package migrate implements MigrationPipeline: per snapshot, claim it,
// bring up a temporary volume, stream a compressed upload of either the
// whole raw device (dd mode) or each partition's tar archive (tar mode),
// optionally validate inline, and release the claim.
package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

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
	"github.com/artemis/snap2s3/internal/pipeline"
	"github.com/artemis/snap2s3/internal/snapmodel"
	"github.com/artemis/snap2s3/internal/subprocess"
	"github.com/artemis/snap2s3/internal/volume"
)

const progressInterval = 30 * time.Second

const diskReaderBufferSize = 256 * 1024

// Pipeline drives MigrationPipeline over a list or the full eligible set
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

// New builds a migration Pipeline.
func New(store ec2store.Store, objects objectstore.Store, prober blockdevice.Prober, volumes *volume.Lifecycle, coord *claim.Coordinator, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:   store,
		objects: objects,
		prober:  prober,
		volumes: volumes,
		coord:   coord,
		cfg:     cfg,
		tracer:  otel.Tracer("internal/migrate"),
	}
}

// Run migrates the given snapshot ids, or the full tag-eligible set when
// ids is empty. Migration halts at the first non-ClaimLost failure so the
// offending snapshot's temporary volume can be inspected.
func (p *Pipeline) Run(ctx context.Context, ids []string) error {
	if len(ids) > 0 {
		return p.runExplicit(ctx, ids)
	}
	return p.runEligible(ctx)
}

func (p *Pipeline) runExplicit(ctx context.Context, ids []string) error {
	snaps, err := p.store.DescribeSnapshots(ctx, ids)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeSnapshotsMissing) {
			return err
		}
		return apperrors.Pipeline("failed to describe requested snapshots", err)
	}

	for _, snap := range snaps {
		if err := p.migrateOne(ctx, snap); err != nil {
			if apperrors.Is(err, apperrors.CodeClaimLost) {
				obslog.L().InfoContext(ctx, "snapshot claimed by another worker, skipping", "snapshot_id", snap.ID)
				continue
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) runEligible(ctx context.Context) error {
	for {
		eligible, err := p.store.DescribeSnapshotsByTag(ctx, p.cfg.Tag, snapmodel.StateMigrate)
		if err != nil {
			return apperrors.Pipeline("failed to list migration-eligible snapshots", err)
		}
		if len(eligible) == 0 {
			return nil
		}

		if err := p.migrateOne(ctx, eligible[0]); err != nil {
			if apperrors.Is(err, apperrors.CodeClaimLost) {
				obslog.L().InfoContext(ctx, "snapshot claimed by another worker, skipping", "snapshot_id", eligible[0].ID)
				continue
			}
			return err
		}
	}
}

func (p *Pipeline) migrateOne(ctx context.Context, snap *snapmodel.Snapshot) error {
	ctx, span := p.tracer.Start(ctx, "migrate.migrateOne", trace.WithAttributes(attribute.String("snapshot.id", snap.ID)))
	defer span.End()

	if err := p.coord.Claim(ctx, snap.ID, snapmodel.StateMigrating); err != nil {
		if !apperrors.Is(err, apperrors.CodeClaimLost) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}

	succeeded := false
	defer func() {
		if succeeded {
			if err := p.coord.Complete(ctx, snap.ID, snapmodel.StateMigrated); err != nil {
				obslog.L().ErrorContext(ctx, "failed to write terminal migrated state", "snapshot_id", snap.ID, "error", err)
			}
			return
		}
		if err := p.coord.Recover(ctx, snap.ID, snapmodel.StateMigrate); err != nil {
			obslog.L().ErrorContext(ctx, "failed to write migration recovery state", "snapshot_id", snap.ID, "error", err)
		}
	}()

	if err := p.migrateSnapshot(ctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperrors.WithSnapshot(err, snap.ID)
	}

	succeeded = true
	return nil
}

func (p *Pipeline) migrateSnapshot(ctx context.Context, snap *snapmodel.Snapshot) error {
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

	base := objectstore.PutOptions{
		Bucket:      p.cfg.Bucket,
		Tags:        snapmodel.ObjectTags(snap, p.cfg.Tag, p.cfg.NonceTagKey()),
		SSE:         p.cfg.SSE,
		SSEKMSKeyID: p.cfg.SSEKMSKeyID,
		Concurrency: p.cfg.UploadStreams,
	}

	if p.cfg.DD {
		return p.migrateDD(ctx, vol, snap, devices, base)
	}
	return p.migrateTar(ctx, vol, snap, devices, base)
}

func (p *Pipeline) migrateDD(ctx context.Context, vol *snapmodel.Volume, snap *snapmodel.Snapshot, devices []snapmodel.BlockDevice, base objectstore.PutOptions) error {
	disk, err := blockdevice.RawDiskView(devices)
	if err != nil {
		return err
	}

	key := snapmodel.ObjectKey(vol, snap, "", snapmodel.ModeDD)

	head, err := p.objects.Head(ctx, p.cfg.Bucket, key)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to check for existing object %s", key), err)
	}
	if head.Exists {
		obslog.L().InfoContext(ctx, "raw image already uploaded, skipping", "key", key)
	} else {
		f, err := os.Open(disk.Path)
		if err != nil {
			return apperrors.Pipeline(fmt.Sprintf("failed to open raw device %s", disk.Path), err)
		}
		defer f.Close()

		estimate := disk.SizeBytes
		opts := base
		opts.Key = key
		opts.Metadata = uploadMetadata(snap, estimate).ToMap()

		if err := p.uploadCompressed(ctx, bufio.NewReaderSize(f, diskReaderBufferSize), estimate, opts); err != nil {
			return err
		}
	}

	if !p.cfg.Validate {
		return nil
	}

	f, err := os.Open(disk.Path)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to reopen raw device %s for inline validation", disk.Path), err)
	}
	defer f.Close()

	result, err := compare.ValidateFileAgainstCompressedObject(ctx, p.objects, p.cfg.Bucket, key, f, disk.SizeBytes)
	if err != nil {
		return apperrors.Wrap(err, "inline validation failed")
	}
	if !result.OK() {
		return apperrors.Validation(fmt.Sprintf("inline validation mismatch: local=%s remote=%s", result.LocalMD5, result.RemoteMD5), nil)
	}
	return nil
}

func (p *Pipeline) migrateTar(ctx context.Context, vol *snapmodel.Volume, snap *snapmodel.Snapshot, devices []snapmodel.BlockDevice, base objectstore.PutOptions) error {
	partitions, err := blockdevice.FilesystemView(devices)
	if err != nil {
		return err
	}

	for _, part := range partitions {
		if p.cfg.SkipPartition(part.PartitionName) {
			obslog.L().InfoContext(ctx, "skipping partition per configuration", "partition", part.PartitionName)
			continue
		}

		if err := p.migrateOnePartition(ctx, vol, snap, part, base); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) migrateOnePartition(ctx context.Context, vol *snapmodel.Volume, snap *snapmodel.Snapshot, part snapmodel.BlockDevice, base objectstore.PutOptions) error {
	key := snapmodel.ObjectKey(vol, snap, part.PartitionName, snapmodel.ModeTar)

	head, err := p.objects.Head(ctx, p.cfg.Bucket, key)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to check for existing object %s", key), err)
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

	estimate, err := subprocess.DiskUsageBytes(ctx, mountpoint)
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("failed to measure size of %s", mountpoint), err)
	}

	if head.Exists {
		obslog.L().InfoContext(ctx, "partition tar already uploaded, skipping", "key", key)
	} else {
		tarStage := subprocess.Stage{
			Name: "tar",
			Path: "tar",
			Args: []string{"-cf", "-", "."},
			Dir:  mountpoint,
		}
		tarPipeline := subprocess.New(tarStage)
		tarOut, err := tarPipeline.Start(ctx)
		if err != nil {
			return apperrors.Wrap(err, "failed to start tar stage")
		}

		opts := base
		opts.Key = key
		opts.Metadata = uploadMetadata(snap, estimate).ToMap()

		if err := p.uploadCompressed(ctx, tarOut, estimate, opts); err != nil {
			return err
		}
	}

	if !p.cfg.Validate {
		return nil
	}

	result, err := compare.ValidateDirectoryAgainstTarObject(ctx, p.objects, p.cfg.Bucket, key, mountpoint)
	if err != nil {
		return apperrors.Wrap(err, "inline validation failed")
	}
	if !result.OK() {
		return apperrors.Validation(fmt.Sprintf("inline validation found %d mismatches for partition %s", len(result.Differences), part.PartitionName), nil)
	}
	return nil
}

func uploadMetadata(snap *snapmodel.Snapshot, estimate int64) snapmodel.UploadMetadata {
	return snapmodel.UploadMetadata{
		SnapshotStartTime:   snap.StartTime.Format("2006-01-02T15:04:05-07:00"),
		SnapshotID:          snap.ID,
		SnapshotVolumeSize:  fmt.Sprintf("%d", snap.SizeGiB),
		SnapshotVolumeID:    snap.VolumeID,
		SnapshotDescription: snap.Description,
		UncompressedSize:    estimate,
	}
}

// uploadCompressed pipes source through a byte-counting progress stream
// into an lz4 compressor whose stdout feeds the multipart uploader,
// matching uploadProcessStdOut's streaming contract.
func (p *Pipeline) uploadCompressed(ctx context.Context, source io.Reader, estimate int64, opts objectstore.PutOptions) error {
	counter := pipeline.NewCountingReader(source)

	compress := subprocess.New(subprocess.Stage{
		Name:  "lz4-compress",
		Path:  "lz4",
		Args:  []string{fmt.Sprintf("-%d", p.cfg.CompressionLevel), "-c"},
		Stdin: counter,
	})
	out, err := compress.Start(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to start compressor")
	}

	meter := pipeline.NewProgressMeter("migrate", estimate, counter)
	meter.Start(ctx, progressInterval)
	defer meter.Stop()

	opts.Body = out
	opts.PartSize = objectstore.PartSize(estimate)

	if err := p.objects.Put(ctx, opts); err != nil {
		compress.Cancel()
		_ = out.Close()
		return apperrors.Pipeline(fmt.Sprintf("failed to upload %s", opts.Key), err)
	}

	if err := out.Close(); err != nil {
		return apperrors.Pipeline(fmt.Sprintf("compressor failed while uploading %s", opts.Key), err)
	}
	return nil
}
