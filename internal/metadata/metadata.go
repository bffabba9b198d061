// Package metadata resolves the running instance's identity from the
// cloud provider's instance metadata service. It is an external
// collaborator the core pipeline consumes only through this package's
// small interface.
package metadata

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/snapmodel"
)

// Resolver resolves the identity of the instance the process is running on.
type Resolver interface {
	Resolve(ctx context.Context) (snapmodel.Instance, error)
}

// IMDSResolver resolves identity via the EC2 Instance Metadata Service.
type IMDSResolver struct {
	client *imds.Client
}

// NewIMDSResolver builds a resolver from the process's default AWS
// configuration (the same credential/region chain the EC2 and S3 clients
// use).
func NewIMDSResolver(ctx context.Context) (*IMDSResolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, apperrors.Preflight("failed to load AWS configuration", err)
	}
	return &IMDSResolver{client: imds.NewFromConfig(cfg)}, nil
}

// Resolve queries the instance identity document for id, region,
// availability zone and account id. Any failure to reach the metadata
// service is a PreflightError: the tool cannot run off-instance.
func (r *IMDSResolver) Resolve(ctx context.Context) (snapmodel.Instance, error) {
	doc, err := r.client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return snapmodel.Instance{}, apperrors.Preflight("failed to reach instance metadata service", err)
	}

	return snapmodel.Instance{
		ID:               doc.InstanceID,
		Region:           doc.Region,
		AvailabilityZone: doc.AvailabilityZone,
		AccountID:        doc.AccountID,
	}, nil
}

// StaticResolver returns a fixed Instance, for tests. cmd/snap2s3 always
// resolves the identity through IMDSResolver.
type StaticResolver struct {
	Instance snapmodel.Instance
}

func (r StaticResolver) Resolve(ctx context.Context) (snapmodel.Instance, error) {
	return r.Instance, nil
}

// DeviceLetterRange returns the ordered list of candidate EBS attachment
// device names this resolver's platform reserves for dynamic attachment,
// e.g. "/dev/sdf".."/dev/sdp", the range VolumeLifecycle scans when
// picking a free attachment point.
func DeviceLetterRange() []string {
	var devices []string
	for c := 'f'; c <= 'p'; c++ {
		devices = append(devices, "/dev/sd"+string(c))
	}
	return devices
}

// KernelDeviceName maps a requested attachment device name (e.g.
// "/dev/sdf") to the name the kernel actually exposes on Nitro-based
// instances (e.g. "/dev/xvdf"), since EC2 may rename the device on attach.
func KernelDeviceName(requested string) string {
	if strings.HasPrefix(requested, "/dev/sd") {
		return "/dev/xvd" + strings.TrimPrefix(requested, "/dev/sd")
	}
	return requested
}
