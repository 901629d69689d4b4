package object

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
)

// FileMetaFromPath builds a FileMeta from the filesystem, without following
// a final symlink. Extended attributes are read and canonicalized. Only
// regular files, symlinks, and directories are supported; other node types
// are rejected.
func FileMetaFromPath(path string) (*FileMeta, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("lstat %s: no unix metadata", path)
	}

	meta := &FileMeta{
		UID:  st.Uid,
		GID:  st.Gid,
		Mode: uint32(st.Mode),
		Rdev: uint32(st.Rdev),
	}
	if IsSymlinkMode(meta.Mode) {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, fmt.Errorf("readlink %s: %w", path, err)
		}
		meta.SymlinkTarget = target
	}
	xs, err := ReadXattrs(path)
	if err != nil {
		return nil, err
	}
	meta.Xattrs = xs
	return meta, nil
}

// ChecksumPath computes the file-object checksum of the regular file or
// symlink at path, streaming content through SHA-256 without buffering it.
func ChecksumPath(path string) (string, error) {
	return checksumPath(context.Background(), path)
}

func checksumPath(ctx context.Context, path string) (string, error) {
	meta, err := FileMetaFromPath(path)
	if err != nil {
		return "", err
	}
	if err := ValidateFileMode(meta.Mode); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}

	var content io.Reader
	if IsRegularMode(meta.Mode) {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		content = &ctxReader{ctx: ctx, r: f}
	}
	return ComputeFileChecksum(meta, content)
}

// ctxReader observes context cancellation between reads so a long checksum
// over a large file can be abandoned promptly.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ChecksumResult delivers the outcome of an asynchronous checksum.
type ChecksumResult struct {
	Checksum string
	Err      error
}

// ChecksumPathAsync runs ChecksumPath on a background goroutine and delivers
// the result on the returned channel. Cancelling ctx abandons the
// computation; the discarded partial state has no side effects.
func ChecksumPathAsync(ctx context.Context, path string) <-chan ChecksumResult {
	ch := make(chan ChecksumResult, 1)
	go func() {
		csum, err := checksumPath(ctx, path)
		ch <- ChecksumResult{Checksum: csum, Err: err}
	}()
	return ch
}
