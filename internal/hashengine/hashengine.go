// Package hashengine computes and compares MD5 hashes over byte streams,
// tar archives, and directory trees, as HashEngine specifies: a plain
// stream hash, a per-regular-file hash list over a tar stream or a
// directory walk, and an order-independent comparison of two sorted hash
// lists.
package hashengine

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artemis/snap2s3/internal/apperrors"
)

// StreamMD5 hashes every byte read from r and returns the hex digest.
func StreamMD5(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", apperrors.Internal("failed to hash stream", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileHash pairs a path with its MD5 digest.
type FileHash struct {
	Path string
	MD5  string
}

// TarMD5 reads a tar stream and returns one FileHash per regular-file
// entry, sorted lexicographically by path.
func TarMD5(r io.Reader) ([]FileHash, error) {
	tr := tar.NewReader(r)
	var hashes []FileHash

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Internal("failed to read tar stream", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		h := md5.New()
		if _, err := io.Copy(h, tr); err != nil {
			return nil, apperrors.Internal(fmt.Sprintf("failed to hash tar entry %s", hdr.Name), err)
		}
		hashes = append(hashes, FileHash{Path: cleanTarPath(hdr.Name), MD5: hex.EncodeToString(h.Sum(nil))})
	}

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Path < hashes[j].Path })
	return hashes, nil
}

// cleanTarPath normalizes a tar member name to the same relative-path form
// DirMD5 produces: `tar -cf - .` prefixes every entry with "./", which
// path.Clean strips along with any other "." segments, so the two sides
// agree on path even though one was archived and the other walked.
func cleanTarPath(name string) string {
	return path.Clean(strings.TrimPrefix(name, "./"))
}

// DirMD5 recursively walks dir and returns one FileHash per regular file,
// with paths relative to dir using forward slashes, sorted lexicographically.
func DirMD5(dir string) ([]FileHash, error) {
	var hashes []FileHash

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}

		hashes = append(hashes, FileHash{Path: rel, MD5: hex.EncodeToString(h.Sum(nil))})
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal("failed to hash directory tree", err)
	}

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Path < hashes[j].Path })
	return hashes, nil
}

// Difference describes one disagreement found while comparing two sorted
// hash lists.
type Difference struct {
	Path   string
	Reason string // "missing on remote", "missing on local", "hash differs"
}

// CompareResult is the outcome of comparing a local and remote sorted hash
// list.
type CompareResult struct {
	Matched     int
	Differences []Difference
}

// OK reports whether the two sides agreed on every path and hash.
func (r CompareResult) OK() bool {
	return len(r.Differences) == 0
}

// Compare performs an order-independent comparison of two sorted
// FileHash lists (as produced by TarMD5/DirMD5), reporting every
// missing-on-one-side or hash-differs disagreement.
//
// When both inputs are free of duplicate paths, every local path is
// counted exactly once as matched, hash-differs or missing-on-remote, so
// Matched plus those two difference counts equals len(local); likewise
// Matched plus hash-differs plus missing-on-local equals len(remote).
func Compare(local, remote []FileHash) CompareResult {
	var result CompareResult

	i, j := 0, 0
	for i < len(local) && j < len(remote) {
		switch {
		case local[i].Path == remote[j].Path:
			if local[i].MD5 == remote[j].MD5 {
				result.Matched++
			} else {
				result.Differences = append(result.Differences, Difference{Path: local[i].Path, Reason: "hash differs"})
			}
			i++
			j++
		case local[i].Path < remote[j].Path:
			result.Differences = append(result.Differences, Difference{Path: local[i].Path, Reason: "missing on remote"})
			i++
		default:
			result.Differences = append(result.Differences, Difference{Path: remote[j].Path, Reason: "missing on local"})
			j++
		}
	}
	for ; i < len(local); i++ {
		result.Differences = append(result.Differences, Difference{Path: local[i].Path, Reason: "missing on remote"})
	}
	for ; j < len(remote); j++ {
		result.Differences = append(result.Differences, Difference{Path: remote[j].Path, Reason: "missing on local"})
	}

	return result
}
