package objectstore_test

import (
	"math"
	"testing"

	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/stretchr/testify/require"
)

func TestPartSizeMeetsCeilingInvariant(t *testing.T) {
	estimates := []int64{
		0,
		1,
		1024,
		100 * 1024 * 1024,
		100 * 1024 * 1024 * 1024,       // 100 GiB
		5 * 1024 * 1024 * 1024 * 1024,  // 5 TiB, near S3's object size ceiling
	}

	for _, est := range estimates {
		part := objectstore.PartSize(est)
		require.GreaterOrEqual(t, part, int64(objectstore.MinPartSize))

		fits := float64(part)*float64(objectstore.MaxParts) >= float64(est+objectstore.SlackBytes)
		require.True(t, fits, "estimate=%d partSize=%d does not satisfy partSize*maxParts >= estimate+slack", est, part)
	}
}

func TestPartSizeIsMonotonicInEstimate(t *testing.T) {
	a := objectstore.PartSize(1 * 1024 * 1024 * 1024)
	b := objectstore.PartSize(10 * 1024 * 1024 * 1024)
	require.LessOrEqual(t, a, b)
}

func TestPartSizeSmallEstimateUsesMinimum(t *testing.T) {
	require.Equal(t, int64(objectstore.MinPartSize), objectstore.PartSize(0))
}

func TestPartSizeNeverRoundsDown(t *testing.T) {
	// A budget that does not divide evenly over the 90% part budget must
	// still fit in it, i.e. the implementation must round up, not truncate
	// (truncating would land a few KiB short of the budget here).
	est := int64(objectstore.MaxParts)*int64(math.Round(float64(objectstore.MinPartSize)*0.9)) + 12345
	part := objectstore.PartSize(est)
	fits := float64(part)*float64(objectstore.MaxParts)*0.9 >= float64(est+objectstore.SlackBytes)
	require.True(t, fits)
}
