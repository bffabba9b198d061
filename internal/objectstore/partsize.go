package objectstore

// S3's multipart upload limits: at most 10,000 parts, and (outside a
// handful of grandfathered buckets) a minimum part size of 5 MiB for every
// part but the last.
const (
	MaxParts    = 10_000
	MinPartSize = 5 * 1024 * 1024

	// SlackBytes is added to the pre-upload estimate before computing part
	// size, since the estimate is a lower bound and actual bytes can exceed
	// it.
	SlackBytes = 10 * 1024 * 1024

	// partCountSafety shrinks the usable part budget to 90% of MaxParts so
	// the stream still fits even when actual bytes overrun the estimate.
	partCountSafety = 0.9
)

// PartSize computes the multipart part size for a stream whose size is
// only an estimate: large enough that (estimate + slack) bytes still fit
// within 90% of the provider's max part count, and never smaller than the
// provider's minimum part size.
func PartSize(estimate int64) int64 {
	budget := float64(estimate + SlackBytes)
	usableParts := float64(MaxParts) * partCountSafety

	perPart := int64(budget / usableParts)
	if float64(perPart)*usableParts < budget {
		perPart++
	}

	if perPart < MinPartSize {
		return MinPartSize
	}
	return perPart
}
