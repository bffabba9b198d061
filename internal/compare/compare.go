// Package compare implements the validation primitives that compare
// locally-read bytes against the object previously uploaded for a
// snapshot: a single-stream MD5 race for dd-mode images and a
// per-file hash-list comparison for tar-mode partitions.
package compare

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/hashengine"
	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/artemis/snap2s3/internal/pipeline"
	"github.com/artemis/snap2s3/internal/subprocess"
)

const progressInterval = 30 * time.Second

// FileResult is the outcome of ValidateFileAgainstCompressedObject.
type FileResult struct {
	LocalMD5  string
	RemoteMD5 string
}

// OK reports whether the local and remote digests agreed.
func (r FileResult) OK() bool {
	return r.LocalMD5 == r.RemoteMD5
}

// ValidateFileAgainstCompressedObject hashes localFile directly while, in
// parallel, streaming the remote compressed object through an lz4 -d
// decompression stage and hashing its output; both sides race under a
// shared progress view. A local-side failure cancels the shared context,
// which stops the decompressor. A remote-side failure does not interrupt
// the local hash: it reads localFile to the end before the error returns.
func ValidateFileAgainstCompressedObject(ctx context.Context, objects objectstore.Store, bucket, key string, localFile io.Reader, estimate int64) (FileResult, error) {
	g, ctx := errgroup.WithContext(ctx)

	localCounter := pipeline.NewCountingReader(localFile)
	remotePipeR, remotePipeW := io.Pipe()
	remoteCounter := pipeline.NewCountingReader(remotePipeR)

	var localMD5, remoteMD5 string

	g.Go(func() error {
		h, err := hashengine.StreamMD5(localCounter)
		if err != nil {
			return apperrors.Wrap(err, "failed to hash local file")
		}
		localMD5 = h
		return nil
	})

	g.Go(func() error {
		remote, err := objects.GetRange(ctx, bucket, key, 0, -1)
		if err != nil {
			remotePipeW.CloseWithError(err)
			return apperrors.Pipeline(fmt.Sprintf("failed to open remote object %s", key), err)
		}
		defer remote.Close()

		decomp := subprocess.New(subprocess.Stage{
			Name:  "lz4-decompress",
			Path:  "lz4",
			Args:  []string{"-d", "-c"},
			Stdin: remote,
		})
		out, err := decomp.Start(ctx)
		if err != nil {
			remotePipeW.CloseWithError(err)
			return apperrors.Wrap(err, "failed to start decompression")
		}
		defer out.Close()

		_, copyErr := io.Copy(remotePipeW, out)
		remotePipeW.CloseWithError(copyErr)
		return nil
	})

	g.Go(func() error {
		h, err := hashengine.StreamMD5(remoteCounter)
		if err != nil {
			return apperrors.Wrap(err, "failed to hash remote object")
		}
		remoteMD5 = h
		return nil
	})

	meter := pipeline.NewProgressMeter("validate", estimate, localCounter, remoteCounter)
	meter.Start(ctx, progressInterval)
	waitErr := g.Wait()
	meter.Stop()
	if waitErr != nil {
		return FileResult{}, waitErr
	}

	return FileResult{LocalMD5: localMD5, RemoteMD5: remoteMD5}, nil
}

// DirectoryResult is the outcome of ValidateDirectoryAgainstTarObject.
type DirectoryResult struct {
	hashengine.CompareResult
}

// ValidateDirectoryAgainstTarObject walks the mounted partition at
// localDir computing one MD5 per regular file, while in parallel streaming
// the remote tar.lz4 object through lz4 -d and a tar-stream parse that
// hashes each entry, then compares the two sorted hash lists for an
// order-independent per-file agreement.
func ValidateDirectoryAgainstTarObject(ctx context.Context, objects objectstore.Store, bucket, key, localDir string) (DirectoryResult, error) {
	g, _ := errgroup.WithContext(ctx)

	var localHashes, remoteHashes []hashengine.FileHash

	g.Go(func() error {
		h, err := hashengine.DirMD5(localDir)
		if err != nil {
			return apperrors.Wrap(err, "failed to hash local directory")
		}
		localHashes = h
		return nil
	})

	g.Go(func() error {
		remote, err := objects.GetRange(ctx, bucket, key, 0, -1)
		if err != nil {
			return apperrors.Pipeline(fmt.Sprintf("failed to open remote object %s", key), err)
		}
		defer remote.Close()

		decomp := subprocess.New(subprocess.Stage{
			Name:  "lz4-decompress",
			Path:  "lz4",
			Args:  []string{"-d", "-c"},
			Stdin: remote,
		})
		out, err := decomp.Start(ctx)
		if err != nil {
			return apperrors.Wrap(err, "failed to start decompression")
		}
		defer out.Close()

		h, err := hashengine.TarMD5(out)
		if err != nil {
			return apperrors.Wrap(err, "failed to hash remote tar stream")
		}
		remoteHashes = h
		return nil
	})

	if err := g.Wait(); err != nil {
		return DirectoryResult{}, err
	}

	return DirectoryResult{CompareResult: hashengine.Compare(localHashes, remoteHashes)}, nil
}
