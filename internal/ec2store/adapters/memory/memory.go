// Package memory is an in-memory ec2store.Store used by tests that need a
// volume/snapshot/tag backend without real AWS credentials.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/snapmodel"
)

// Store is a concurrency-safe in-memory ec2store.Store.
type Store struct {
	mu        sync.Mutex
	volumes   map[string]*snapmodel.Volume
	snapshots map[string]*snapmodel.Snapshot
	tags      map[string]map[string]string
}

func New() *Store {
	return &Store{
		volumes:   make(map[string]*snapmodel.Volume),
		snapshots: make(map[string]*snapmodel.Snapshot),
		tags:      make(map[string]map[string]string),
	}
}

// Seed installs a snapshot directly, for test setup.
func (s *Store) Seed(snap *snapmodel.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap
	s.tags[snap.ID] = cloneTags(snap.Tags)
}

func cloneTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Store) CreateVolume(ctx context.Context, opts ec2store.CreateVolumeOptions) (*snapmodel.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "vol-" + uuid.New().String()
	vol := &snapmodel.Volume{
		ID:               id,
		AvailabilityZone: opts.AvailabilityZone,
		VolumeType:       opts.VolumeType,
		SnapshotID:       opts.SnapshotID,
		State:            snapmodel.VolumeStateAvailable,
		Tags:             cloneTags(opts.Tags),
	}
	s.volumes[id] = vol
	s.tags[id] = cloneTags(opts.Tags)
	return cloneVolume(vol), nil
}

func cloneVolume(v *snapmodel.Volume) *snapmodel.Volume {
	cp := *v
	cp.Attachments = append([]snapmodel.Attachment(nil), v.Attachments...)
	cp.Tags = cloneTags(v.Tags)
	return &cp
}

func (s *Store) GetVolume(ctx context.Context, volumeID string) (*snapmodel.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[volumeID]
	if !ok {
		return nil, apperrors.NotFound("volume not found: "+volumeID, nil)
	}
	return cloneVolume(v), nil
}

func (s *Store) ListVolumes(ctx context.Context, opts ec2store.ListVolumesOptions) ([]*snapmodel.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*snapmodel.Volume
	for _, v := range s.volumes {
		if opts.SourceSnap != "" && v.SnapshotID != opts.SourceSnap {
			continue
		}
		if opts.TagKey != "" {
			if _, ok := v.Tags[opts.TagKey]; !ok {
				continue
			}
		}
		if opts.AttachedToInstance != "" {
			if _, ok := v.AttachmentFor(opts.AttachedToInstance); !ok {
				continue
			}
		}
		out = append(out, cloneVolume(v))
	}
	return out, nil
}

func (s *Store) AttachVolume(ctx context.Context, opts ec2store.AttachVolumeOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[opts.VolumeID]
	if !ok {
		return apperrors.NotFound("volume not found: "+opts.VolumeID, nil)
	}
	v.Attachments = append(v.Attachments, snapmodel.Attachment{
		InstanceID: opts.InstanceID,
		Device:     opts.Device,
		State:      snapmodel.AttachmentAttached,
	})
	v.State = snapmodel.VolumeStateInUse
	return nil
}

func (s *Store) DetachVolume(ctx context.Context, volumeID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[volumeID]
	if !ok {
		return apperrors.NotFound("volume not found: "+volumeID, nil)
	}
	var kept []snapmodel.Attachment
	for _, a := range v.Attachments {
		if a.InstanceID != instanceID {
			kept = append(kept, a)
		}
	}
	v.Attachments = kept
	if len(kept) == 0 {
		v.State = snapmodel.VolumeStateAvailable
	}
	return nil
}

func (s *Store) DeleteVolume(ctx context.Context, volumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volumes[volumeID]; !ok {
		return apperrors.NotFound("volume not found: "+volumeID, nil)
	}
	delete(s.volumes, volumeID)
	delete(s.tags, volumeID)
	return nil
}

func (s *Store) DescribeSnapshots(ctx context.Context, ids []string) ([]*snapmodel.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*snapmodel.Snapshot
	var missing []string
	for _, id := range ids {
		snap, ok := s.snapshots[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		cp := *snap
		cp.Tags = cloneTags(s.tags[id])
		out = append(out, &cp)
	}
	if len(missing) > 0 {
		return out, apperrors.SnapshotsMissing(missing)
	}
	return out, nil
}

func (s *Store) DescribeSnapshotsByTag(ctx context.Context, tagKey, tagValue string) ([]*snapmodel.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*snapmodel.Snapshot
	for id, snap := range s.snapshots {
		if s.tags[id][tagKey] != tagValue {
			continue
		}
		cp := *snap
		cp.Tags = cloneTags(s.tags[id])
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.tags[resourceID]
	if existing == nil {
		existing = make(map[string]string)
		s.tags[resourceID] = existing
	}
	for k, v := range tags {
		existing[k] = v
	}
	if snap, ok := s.snapshots[resourceID]; ok {
		snap.Tags = cloneTags(existing)
	}
	if vol, ok := s.volumes[resourceID]; ok {
		vol.Tags = cloneTags(existing)
	}
	return nil
}

func (s *Store) DeleteTags(ctx context.Context, resourceID string, tagKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.tags[resourceID]
	for _, k := range tagKeys {
		delete(existing, k)
	}
	if snap, ok := s.snapshots[resourceID]; ok {
		snap.Tags = cloneTags(existing)
	}
	if vol, ok := s.volumes[resourceID]; ok {
		vol.Tags = cloneTags(existing)
	}
	return nil
}

func (s *Store) ReadTags(ctx context.Context, resourceID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTags(s.tags[resourceID]), nil
}
