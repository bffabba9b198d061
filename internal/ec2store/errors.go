package ec2store

import "github.com/artemis/snap2s3/internal/apperrors"

// wrapAWSError classifies a raw AWS SDK error. It has no special-cases
// today beyond Internal wrapping; a dedicated errors.go mirrors the
// teacher's per-package errors.go convention of keeping classification
// logic out of the call sites.
func wrapAWSError(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Internal("ec2: "+op, err)
}
