// Package awsec2 implements ec2store.Store against real EBS/EC2 using
// github.com/aws/aws-sdk-go-v2/service/ec2, adopted into this corpus
// because the teacher library itself has no EC2 client of its own — the
// EC2 service dependency exists elsewhere in the retrieved pack but not in
// the teacher's go.mod.
package awsec2

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/snapmodel"
)

// Adapter implements ec2store.Store.
type Adapter struct {
	client *ec2.Client
}

// New builds an Adapter from the process's default AWS configuration. If
// both accessKeyID and secretAccessKey are non-empty they override the
// default credential chain with a static provider (e.g. a test account's
// keys); otherwise the chain falls through to the IMDS role credentials
// the instance normally runs under.
func New(ctx context.Context, accessKeyID, secretAccessKey string) (*Adapter, error) {
	var opts []func(*config.LoadOptions) error
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Preflight("failed to load AWS configuration", err)
	}
	return &Adapter{client: ec2.NewFromConfig(cfg)}, nil
}

func tagSpec(resourceType types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	var ec2tags []types.Tag
	for k, v := range tags {
		ec2tags = append(ec2tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return []types.TagSpecification{{ResourceType: resourceType, Tags: ec2tags}}
}

func tagsToMap(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func (a *Adapter) CreateVolume(ctx context.Context, opts ec2store.CreateVolumeOptions) (*snapmodel.Volume, error) {
	out, err := a.client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone:  aws.String(opts.AvailabilityZone),
		SnapshotId:        aws.String(opts.SnapshotID),
		VolumeType:        types.VolumeType(opts.VolumeType),
		TagSpecifications: tagSpec(types.ResourceTypeVolume, opts.Tags),
	})
	if err != nil {
		return nil, apperrors.Internal("ec2: CreateVolume", err)
	}

	return &snapmodel.Volume{
		ID:               aws.ToString(out.VolumeId),
		AvailabilityZone: aws.ToString(out.AvailabilityZone),
		VolumeType:       string(out.VolumeType),
		SnapshotID:       aws.ToString(out.SnapshotId),
		State:            snapmodel.VolumeState(out.State),
		Tags:             tagsToMap(out.Tags),
	}, nil
}

func (a *Adapter) GetVolume(ctx context.Context, volumeID string) (*snapmodel.Volume, error) {
	out, err := a.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}})
	if err != nil {
		return nil, apperrors.Internal("ec2: DescribeVolumes", err)
	}
	if len(out.Volumes) == 0 {
		return nil, apperrors.NotFound("volume not found: "+volumeID, nil)
	}
	return toVolume(out.Volumes[0]), nil
}

func toVolume(v types.Volume) *snapmodel.Volume {
	var attachments []snapmodel.Attachment
	for _, att := range v.Attachments {
		attachments = append(attachments, snapmodel.Attachment{
			InstanceID: aws.ToString(att.InstanceId),
			Device:     aws.ToString(att.Device),
			State:      snapmodel.AttachmentState(att.State),
		})
	}
	return &snapmodel.Volume{
		ID:               aws.ToString(v.VolumeId),
		AvailabilityZone: aws.ToString(v.AvailabilityZone),
		VolumeType:       string(v.VolumeType),
		SnapshotID:       aws.ToString(v.SnapshotId),
		Attachments:      attachments,
		Tags:             tagsToMap(v.Tags),
		State:            snapmodel.VolumeState(v.State),
	}
}

func (a *Adapter) ListVolumes(ctx context.Context, opts ec2store.ListVolumesOptions) ([]*snapmodel.Volume, error) {
	var filters []types.Filter
	if opts.TagKey != "" {
		filters = append(filters, types.Filter{Name: aws.String("tag-key"), Values: []string{opts.TagKey}})
	}
	if opts.SourceSnap != "" {
		filters = append(filters, types.Filter{Name: aws.String("snapshot-id"), Values: []string{opts.SourceSnap}})
	}
	if opts.AttachedToInstance != "" {
		filters = append(filters, types.Filter{Name: aws.String("attachment.instance-id"), Values: []string{opts.AttachedToInstance}})
	}

	out, err := a.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{Filters: filters})
	if err != nil {
		return nil, apperrors.Internal("ec2: DescribeVolumes", err)
	}

	volumes := make([]*snapmodel.Volume, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		volumes = append(volumes, toVolume(v))
	}
	return volumes, nil
}

func (a *Adapter) AttachVolume(ctx context.Context, opts ec2store.AttachVolumeOptions) error {
	_, err := a.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(opts.VolumeID),
		InstanceId: aws.String(opts.InstanceID),
		Device:     aws.String(opts.Device),
	})
	if err != nil {
		return apperrors.Internal("ec2: AttachVolume", err)
	}
	return nil
}

func (a *Adapter) DetachVolume(ctx context.Context, volumeID, instanceID string) error {
	_, err := a.client.DetachVolume(ctx, &ec2.DetachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		return apperrors.Internal("ec2: DetachVolume", err)
	}
	return nil
}

func (a *Adapter) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := a.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		return apperrors.Internal("ec2: DeleteVolume", err)
	}
	return nil
}

func (a *Adapter) DescribeSnapshots(ctx context.Context, ids []string) ([]*snapmodel.Snapshot, error) {
	out, err := a.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: ids})
	if err != nil {
		return nil, apperrors.Internal("ec2: DescribeSnapshots", err)
	}

	found := make(map[string]bool, len(out.Snapshots))
	snapshots := make([]*snapmodel.Snapshot, 0, len(out.Snapshots))
	for _, s := range out.Snapshots {
		snap := toSnapshot(s)
		found[snap.ID] = true
		snapshots = append(snapshots, snap)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return snapshots, apperrors.SnapshotsMissing(missing)
	}
	return snapshots, nil
}

func toSnapshot(s types.Snapshot) *snapmodel.Snapshot {
	sizeGiB := int64(aws.ToInt32(s.VolumeSize))
	var startTime time.Time
	if s.StartTime != nil {
		startTime = *s.StartTime
	}
	return &snapmodel.Snapshot{
		ID:          aws.ToString(s.SnapshotId),
		VolumeID:    aws.ToString(s.VolumeId),
		SizeGiB:     sizeGiB,
		StartTime:   startTime,
		Description: aws.ToString(s.Description),
		Tags:        tagsToMap(s.Tags),
	}
}

func (a *Adapter) DescribeSnapshotsByTag(ctx context.Context, tagKey, tagValue string) ([]*snapmodel.Snapshot, error) {
	out, err := a.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + tagKey), Values: []string{tagValue}},
		},
		OwnerIds: []string{"self"},
	})
	if err != nil {
		return nil, apperrors.Internal("ec2: DescribeSnapshots", err)
	}

	snapshots := make([]*snapmodel.Snapshot, 0, len(out.Snapshots))
	for _, s := range out.Snapshots {
		snapshots = append(snapshots, toSnapshot(s))
	}
	return snapshots, nil
}

func (a *Adapter) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	var ec2tags []types.Tag
	for k, v := range tags {
		ec2tags = append(ec2tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := a.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      ec2tags,
	})
	if err != nil {
		return apperrors.Internal("ec2: CreateTags", err)
	}
	return nil
}

func (a *Adapter) DeleteTags(ctx context.Context, resourceID string, tagKeys []string) error {
	var ec2tags []types.Tag
	for _, k := range tagKeys {
		ec2tags = append(ec2tags, types.Tag{Key: aws.String(k)})
	}
	_, err := a.client.DeleteTags(ctx, &ec2.DeleteTagsInput{
		Resources: []string{resourceID},
		Tags:      ec2tags,
	})
	if err != nil {
		return apperrors.Internal("ec2: DeleteTags", err)
	}
	return nil
}

func (a *Adapter) ReadTags(ctx context.Context, resourceID string) (map[string]string, error) {
	out, err := a.client.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []types.Filter{
			{Name: aws.String("resource-id"), Values: []string{resourceID}},
		},
	})
	if err != nil {
		return nil, apperrors.Internal("ec2: DescribeTags", err)
	}

	tags := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}
