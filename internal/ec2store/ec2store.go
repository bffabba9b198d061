// Package ec2store wraps the EC2 APIs SnapshotCoordinator and
// VolumeLifecycle consume: describe/create/attach/detach/delete volumes,
// describe snapshots, and read/write/delete tags. It mirrors the shape of
// a VolumeStore interface (CreateVolume/GetVolume/ListVolumes/DeleteVolume/
// AttachVolume/DetachVolume, plus tag operations and DescribeSnapshots)
// generalized from an in-memory block-storage abstraction to real EBS.
package ec2store

import (
	"context"

	"github.com/artemis/snap2s3/internal/snapmodel"
)

// CreateVolumeOptions configures a temporary volume's creation from a
// snapshot.
type CreateVolumeOptions struct {
	SnapshotID       string
	AvailabilityZone string
	VolumeType       string
	Tags             map[string]string
}

// ListVolumesOptions filters ListVolumes by tag, source snapshot, and/or
// current attachment to a given instance.
type ListVolumesOptions struct {
	TagKey             string
	SourceSnap         string
	AttachedToInstance string
}

// AttachVolumeOptions configures an attach call.
type AttachVolumeOptions struct {
	VolumeID   string
	InstanceID string
	Device     string
}

// Store is the EC2 surface the claim and volume-lifecycle packages
// consume. Implementations: awsec2 (real EBS) and memory (tests).
type Store interface {
	// Volumes
	CreateVolume(ctx context.Context, opts CreateVolumeOptions) (*snapmodel.Volume, error)
	GetVolume(ctx context.Context, volumeID string) (*snapmodel.Volume, error)
	ListVolumes(ctx context.Context, opts ListVolumesOptions) ([]*snapmodel.Volume, error)
	AttachVolume(ctx context.Context, opts AttachVolumeOptions) error
	DetachVolume(ctx context.Context, volumeID, instanceID string) error
	DeleteVolume(ctx context.Context, volumeID string) error

	// Snapshots
	DescribeSnapshots(ctx context.Context, ids []string) ([]*snapmodel.Snapshot, error)
	DescribeSnapshotsByTag(ctx context.Context, tagKey, tagValue string) ([]*snapmodel.Snapshot, error)

	// Tags — shared by snapshot and volume resources, since EC2's
	// CreateTags/DescribeTags/DeleteTags operate on any resource id.
	CreateTags(ctx context.Context, resourceID string, tags map[string]string) error
	DeleteTags(ctx context.Context, resourceID string, tagKeys []string) error
	ReadTags(ctx context.Context, resourceID string) (map[string]string, error)
}
