package subprocess

import (
	"context"
	"strconv"
	"strings"

	"github.com/artemis/snap2s3/internal/apperrors"
)

// DiskUsageBytes shells out to du (one of the required external tools) to
// measure the recursive byte size of path. MigrationPipeline uses it as
// the per-partition size estimate; ValidationPipeline also calls it before
// each tar-mode comparison but does not use the value.
func DiskUsageBytes(ctx context.Context, path string) (int64, error) {
	out, err := Run(ctx, "du", "du", "-sb", path)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, apperrors.Internal("unexpected du output", nil)
	}

	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, apperrors.Internal("failed to parse du output", err)
	}
	return n, nil
}
