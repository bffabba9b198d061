package ec2store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artemis/snap2s3/internal/obslog"
	"github.com/artemis/snap2s3/internal/snapmodel"
)

// Instrumented wraps a Store with tracing and structured logging: span per
// operation, attrs on entry, RecordError + SetStatus on failure. Volume
// operations also log their failures, and CreateVolume and AttachVolume
// log success; snapshot and tag operations are traced but not logged.
type Instrumented struct {
	next   Store
	tracer trace.Tracer
}

func NewInstrumented(next Store) *Instrumented {
	return &Instrumented{next: next, tracer: otel.Tracer("internal/ec2store")}
}

func (s *Instrumented) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("ec2store.%s", op))
	span.SetAttributes(attrs...)
	return ctx, span
}

func (s *Instrumented) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Instrumented) CreateVolume(ctx context.Context, opts CreateVolumeOptions) (*snapmodel.Volume, error) {
	ctx, span := s.startSpan(ctx, "CreateVolume", attribute.String("snapshot.id", opts.SnapshotID))
	vol, err := s.next.CreateVolume(ctx, opts)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "create volume failed", "snapshot_id", opts.SnapshotID, "error", err)
		return nil, err
	}
	obslog.L().InfoContext(ctx, "created volume", "volume_id", vol.ID, "snapshot_id", opts.SnapshotID)
	return vol, nil
}

func (s *Instrumented) GetVolume(ctx context.Context, volumeID string) (*snapmodel.Volume, error) {
	ctx, span := s.startSpan(ctx, "GetVolume", attribute.String("volume.id", volumeID))
	vol, err := s.next.GetVolume(ctx, volumeID)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "get volume failed", "volume_id", volumeID, "error", err)
		return nil, err
	}
	return vol, nil
}

func (s *Instrumented) ListVolumes(ctx context.Context, opts ListVolumesOptions) ([]*snapmodel.Volume, error) {
	ctx, span := s.startSpan(ctx, "ListVolumes", attribute.String("tag.key", opts.TagKey))
	vols, err := s.next.ListVolumes(ctx, opts)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "list volumes failed", "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("volume.count", len(vols)))
	return vols, nil
}

func (s *Instrumented) AttachVolume(ctx context.Context, opts AttachVolumeOptions) error {
	ctx, span := s.startSpan(ctx, "AttachVolume",
		attribute.String("volume.id", opts.VolumeID),
		attribute.String("instance.id", opts.InstanceID),
		attribute.String("device", opts.Device),
	)
	err := s.next.AttachVolume(ctx, opts)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "attach volume failed", "volume_id", opts.VolumeID, "error", err)
		return err
	}
	obslog.L().InfoContext(ctx, "attached volume", "volume_id", opts.VolumeID, "device", opts.Device)
	return nil
}

func (s *Instrumented) DetachVolume(ctx context.Context, volumeID, instanceID string) error {
	ctx, span := s.startSpan(ctx, "DetachVolume", attribute.String("volume.id", volumeID))
	err := s.next.DetachVolume(ctx, volumeID, instanceID)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "detach volume failed", "volume_id", volumeID, "error", err)
	}
	return err
}

func (s *Instrumented) DeleteVolume(ctx context.Context, volumeID string) error {
	ctx, span := s.startSpan(ctx, "DeleteVolume", attribute.String("volume.id", volumeID))
	err := s.next.DeleteVolume(ctx, volumeID)
	defer s.finish(span, err)
	if err != nil {
		obslog.L().ErrorContext(ctx, "delete volume failed", "volume_id", volumeID, "error", err)
	}
	return err
}

func (s *Instrumented) DescribeSnapshots(ctx context.Context, ids []string) ([]*snapmodel.Snapshot, error) {
	ctx, span := s.startSpan(ctx, "DescribeSnapshots", attribute.Int("snapshot.count", len(ids)))
	snaps, err := s.next.DescribeSnapshots(ctx, ids)
	defer s.finish(span, err)
	return snaps, err
}

func (s *Instrumented) DescribeSnapshotsByTag(ctx context.Context, tagKey, tagValue string) ([]*snapmodel.Snapshot, error) {
	ctx, span := s.startSpan(ctx, "DescribeSnapshotsByTag", attribute.String("tag.key", tagKey), attribute.String("tag.value", tagValue))
	snaps, err := s.next.DescribeSnapshotsByTag(ctx, tagKey, tagValue)
	defer s.finish(span, err)
	return snaps, err
}

func (s *Instrumented) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	ctx, span := s.startSpan(ctx, "CreateTags", attribute.String("resource.id", resourceID))
	err := s.next.CreateTags(ctx, resourceID, tags)
	defer s.finish(span, err)
	return err
}

func (s *Instrumented) DeleteTags(ctx context.Context, resourceID string, tagKeys []string) error {
	ctx, span := s.startSpan(ctx, "DeleteTags", attribute.String("resource.id", resourceID))
	err := s.next.DeleteTags(ctx, resourceID, tagKeys)
	defer s.finish(span, err)
	return err
}

func (s *Instrumented) ReadTags(ctx context.Context, resourceID string) (map[string]string, error) {
	ctx, span := s.startSpan(ctx, "ReadTags", attribute.String("resource.id", resourceID))
	tags, err := s.next.ReadTags(ctx, resourceID)
	defer s.finish(span, err)
	return tags, err
}
