// Package awss3 implements objectstore.Store against real S3 using
// github.com/aws/aws-sdk-go-v2/service/s3 and its companion
// feature/s3/manager for multipart upload, both already direct
// dependencies of the teacher's go.mod.
package awss3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/objectstore"
)

// Adapter implements objectstore.Store.
type Adapter struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// New builds an Adapter from the process's default AWS configuration. If
// both accessKeyID and secretAccessKey are non-empty they override the
// default credential chain with a static provider, matching awsec2.New's
// static-credential override.
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

	client := s3.NewFromConfig(cfg)
	return &Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func tagString(tags map[string]string) *string {
	if len(tags) == 0 {
		return nil
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	joined := strings.Join(parts, "&")
	return &joined
}

func (a *Adapter) Put(ctx context.Context, opts objectstore.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(opts.Bucket),
		Key:               aws.String(opts.Key),
		Body:              opts.Body,
		Metadata:          opts.Metadata,
		Tagging:           tagString(opts.Tags),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	switch opts.SSE {
	case "":
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if opts.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(opts.SSEKMSKeyID)
		}
	default:
		input.ServerSideEncryption = types.ServerSideEncryption(opts.SSE)
	}

	_, err := a.uploader.Upload(ctx, input, func(u *manager.Uploader) {
		if opts.PartSize > 0 {
			u.PartSize = opts.PartSize
		}
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
		u.LeavePartsOnError = false
	})
	if err != nil {
		return apperrors.Pipeline(fmt.Sprintf("s3: multipart upload of %s failed", opts.Key), err)
	}
	return nil
}

func (a *Adapter) Head(ctx context.Context, bucket, key string) (objectstore.HeadResult, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return objectstore.HeadResult{Exists: false}, nil
		}
		return objectstore.HeadResult{}, apperrors.Internal("s3: HeadObject", err)
	}

	return objectstore.HeadResult{
		Exists:        true,
		ContentLength: aws.ToInt64(out.ContentLength),
		Metadata:      out.Metadata,
	}, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if ok := asAPIError(err, &apiErr); ok {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

func asAPIError(err error, target *smithy.APIError) bool {
	for err != nil {
		if ae, ok := err.(smithy.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (a *Adapter) GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-", offset)
	if length >= 0 {
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.ErrNotFound
		}
		return nil, apperrors.Internal("s3: GetObject", err)
	}
	return out.Body, nil
}
