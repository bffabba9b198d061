// Package snapmodel holds the data model shared by every pipeline stage:
// the external Snapshot/Volume identity the cloud provider hands back, the
// temporary Volume and its BlockDevices, the ClaimTag pair used for
// coordination, and the derived ObjectKey/UploadMetadata/ObjectTags that
// describe how a snapshot is represented in the object store.
package snapmodel

import (
	"strconv"
	"time"
)

// Snapshot is the cloud provider's point-in-time image of a block volume.
// Tags are the sole coordination surface between competing workers.
type Snapshot struct {
	ID          string
	VolumeID    string
	SizeGiB     int64
	StartTime   time.Time
	Description string
	Tags        map[string]string
}

// Tag returns the value of the named tag and whether it was present.
func (s *Snapshot) Tag(key string) (string, bool) {
	if s.Tags == nil {
		return "", false
	}
	v, ok := s.Tags[key]
	return v, ok
}

// AttachmentState is the lifecycle state of a single volume attachment.
type AttachmentState string

const (
	AttachmentAttaching AttachmentState = "attaching"
	AttachmentAttached  AttachmentState = "attached"
	AttachmentDetaching AttachmentState = "detaching"
	AttachmentAvailable AttachmentState = "available"
)

// Attachment binds a Volume to a running instance at a device path.
type Attachment struct {
	InstanceID string
	Device     string
	State      AttachmentState
}

// VolumeState is the lifecycle state of a temporary Volume.
type VolumeState string

const (
	VolumeStateCreating  VolumeState = "creating"
	VolumeStateAvailable VolumeState = "available"
	VolumeStateInUse     VolumeState = "in-use"
	VolumeStateDeleting  VolumeState = "deleting"
	VolumeStateError     VolumeState = "error"
)

// Volume is a temporary block volume created solely to expose a snapshot's
// contents to the running instance. It is always created in the same
// availability zone as the instance, since it can only attach there.
type Volume struct {
	ID               string
	AvailabilityZone string
	VolumeType       string
	SnapshotID       string
	Attachments      []Attachment
	Tags             map[string]string
	State            VolumeState
}

// AttachmentFor returns the attachment to the given instance, if any.
func (v *Volume) AttachmentFor(instanceID string) (Attachment, bool) {
	for _, a := range v.Attachments {
		if a.InstanceID == instanceID {
			return a, true
		}
	}
	return Attachment{}, false
}

// DeviceKind classifies a kernel-visible block device.
type DeviceKind string

const (
	DeviceDisk DeviceKind = "disk"
	DevicePart DeviceKind = "part"
)

// BlockDevice is a kernel-visible device backing (part of) an attached
// Volume.
type BlockDevice struct {
	Kind          DeviceKind
	Path          string
	FSType        string
	Mountpoint    string
	PartitionName string
	SizeBytes     int64
}

// ClaimTag is the (tag, tag-id) pair written atomically on a snapshot to
// coordinate competing workers. Tag carries the lifecycle state; TagID
// carries a random nonce used to detect lost races.
type ClaimTag struct {
	Tag   string
	TagID uint32
}

// State values a snapshot's claim tag may carry.
const (
	StateMigrate    = "migrate"
	StateMigrating  = "migrating"
	StateMigrated   = "migrated"
	StateValidating = "validating"
	StateValidated  = "validated"
)

// TempVolumeInProgressValue is the tag value written on a temporary volume
// while it is in use by a migration or validation run.
const TempVolumeInProgressValue = "in-progress"

// Instance is the running compute instance's identity, resolved once from
// the metadata service at startup and threaded through the coordinator and
// volume lifecycle instead of being re-fetched on every call.
type Instance struct {
	ID               string
	Region           string
	AvailabilityZone string
	AccountID        string
}

// UploadMetadata is attached to every uploaded object.
type UploadMetadata struct {
	SnapshotStartTime   string
	SnapshotID          string
	SnapshotVolumeSize  string
	SnapshotVolumeID    string
	SnapshotDescription string
	UncompressedSize    int64
}

// ToMap renders the metadata as the string map an object store PutObject
// call expects.
func (m UploadMetadata) ToMap() map[string]string {
	return map[string]string{
		"snapshot-starttime":   m.SnapshotStartTime,
		"snapshot-snapshotid":  m.SnapshotID,
		"snapshot-volumesize":  m.SnapshotVolumeSize,
		"snapshot-volumeid":    m.SnapshotVolumeID,
		"snapshot-description": m.SnapshotDescription,
		"uncompressed-size":    strconv.FormatInt(m.UncompressedSize, 10),
	}
}
