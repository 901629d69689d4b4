package repo

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

// tempFileRetries bounds the number of names tried when creating a unique
// temporary object file.
const tempFileRetries = 128

// ErrTempFileExhausted is returned when no unique temporary file name could
// be found after tempFileRetries attempts.
var ErrTempFileExhausted = errors.New("exhausted attempts to create unique temp file")

// createTempObject creates an exclusive temporary file in the repository tmp
// directory. Name collisions are retried with fresh random names.
func (r *Repo) createTempObject() (*os.File, error) {
	var nameBuf [8]byte
	for i := 0; i < tempFileRetries; i++ {
		if _, err := rand.Read(nameBuf[:]); err != nil {
			return nil, fmt.Errorf("temp object: %w", err)
		}
		name := filepath.Join(r.tmpDir(), "object-"+hex.EncodeToString(nameBuf[:]))
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("temp object: %w", err)
		}
	}
	return nil, ErrTempFileExhausted
}

// commitTempObject moves a finished temporary file into its content-addressed
// location. If another writer got there first the temp file is discarded and
// the existing object wins; identical content means either copy is valid.
func (r *Repo) commitTempObject(tmpName, csum string, t object.ObjectType, compressed bool) error {
	rel, err := object.RelativePath(csum, t, compressed)
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	dest := filepath.Join(r.Root, rel)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpName)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit object %s.%s: %w", csum, t, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit object %s.%s: %w", csum, t, err)
	}
	return nil
}

func (r *Repo) objectPath(csum string, t object.ObjectType) (string, error) {
	compressed := t == object.TypeFile && r.Mode == ModeArchive
	rel, err := object.RelativePath(csum, t, compressed)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.Root, rel), nil
}

// HasObject reports whether the object is present in the store.
func (r *Repo) HasObject(t object.ObjectType, csum string) (bool, error) {
	path, err := r.objectPath(csum, t)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s.%s: %w", csum, t, err)
}

// WriteMetaObject stores a canonically encoded metadata object and returns
// its checksum. Writing an object that already exists is a no-op.
func (r *Repo) WriteMetaObject(t object.ObjectType, encoded []byte) (string, error) {
	if !t.IsMeta() {
		return "", fmt.Errorf("write meta object: %w: %s", object.ErrInvalidObjectType, t)
	}
	csum := object.ComputeMetaChecksum(encoded)
	if ok, err := r.HasObject(t, csum); err != nil {
		return "", err
	} else if ok {
		return csum, nil
	}

	f, err := r.createTempObject()
	if err != nil {
		return "", err
	}
	tmpName := f.Name()
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write meta object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write meta object: %w", err)
	}
	if err := r.commitTempObject(tmpName, csum, t, false); err != nil {
		return "", err
	}
	return csum, nil
}

// ReadMetaObject reads the canonical encoding of a metadata object and
// verifies it still matches its content address.
func (r *Repo) ReadMetaObject(t object.ObjectType, csum string) ([]byte, error) {
	if !t.IsMeta() {
		return nil, fmt.Errorf("read meta object: %w: %s", object.ErrInvalidObjectType, t)
	}
	path, err := r.objectPath(csum, t)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object %s.%s: %w", csum, t, err)
	}
	if got := object.ComputeMetaChecksum(data); got != csum {
		return nil, fmt.Errorf("read object %s.%s: stored content hashes to %s", csum, t, got)
	}
	return data, nil
}

// WriteFileObject stores a file object from its metadata and raw content
// stream, returning the content address. content may be nil for symlinks.
// The checksum is computed over the bare representation regardless of the
// repository mode.
func (r *Repo) WriteFileObject(meta *object.FileMeta, content io.Reader, contentLen uint64) (string, error) {
	f, err := r.createTempObject()
	if err != nil {
		return "", err
	}
	tmpName := f.Name()

	h := sha256.New()
	switch r.Mode {
	case ModeArchive:
		h.Write(object.FramedFileHeader(meta))
		if content != nil {
			content = io.TeeReader(content, h)
		}
		err = object.WriteZlibFileObject(f, meta, content, contentLen)
	default:
		var stream io.Reader
		stream, _, err = object.FileObjectReader(meta, content, contentLen)
		if err == nil {
			_, err = io.Copy(io.MultiWriter(f, h), stream)
		}
	}
	if err != nil {
		f.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write file object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write file object: %w", err)
	}

	csum := checksum.FromBytes(h.Sum(nil))
	if err := r.commitTempObject(tmpName, csum, object.TypeFile, r.Mode == ModeArchive); err != nil {
		return "", err
	}
	return csum, nil
}

// OpenFileObject opens a stored file object, returning its metadata, a
// reader over the raw content, and the content length. The reader is nil for
// symlinks. Closing the returned closer releases the underlying file.
func (r *Repo) OpenFileObject(csum string) (*object.FileMeta, io.Reader, uint64, io.Closer, error) {
	path, err := r.objectPath(csum, object.TypeFile)
	if err != nil {
		return nil, nil, 0, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, nil, fmt.Errorf("open object %s.%s: %w", csum, object.TypeFile, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, nil, fmt.Errorf("open object %s.%s: %w", csum, object.TypeFile, err)
	}
	meta, content, size, err := object.ParseFileObject(f, uint64(fi.Size()), r.Mode == ModeArchive)
	if err != nil {
		f.Close()
		return nil, nil, 0, nil, fmt.Errorf("open object %s.%s: %w", csum, object.TypeFile, err)
	}
	return meta, content, size, f, nil
}

// ReadFileContent returns the raw content of a regular file object. This is
// the read side used when applying static deltas against local objects.
func (r *Repo) ReadFileContent(csum string) ([]byte, error) {
	meta, content, size, closer, err := r.OpenFileObject(csum)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	if !object.IsRegularMode(meta.Mode) {
		return nil, fmt.Errorf("object %s is not a regular file", csum)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(content, buf); err != nil {
		return nil, fmt.Errorf("read object %s.%s content: %w", csum, object.TypeFile, err)
	}
	return buf, nil
}

// CommitMetaObject stores a metadata object under a checksum asserted by the
// caller. The encoding is rehashed so a bad assertion cannot poison the
// store.
func (r *Repo) CommitMetaObject(t object.ObjectType, csum string, encoded []byte) error {
	got, err := r.WriteMetaObject(t, encoded)
	if err != nil {
		return err
	}
	if got != csum {
		return fmt.Errorf("commit object %s.%s: content hashes to %s", csum, t, got)
	}
	return nil
}

// CommitFileObject stores an in-memory file object under a checksum asserted
// by the caller.
func (r *Repo) CommitFileObject(csum string, meta *object.FileMeta, content []byte) error {
	got, err := r.WriteFileObject(meta, bytes.NewReader(content), uint64(len(content)))
	if err != nil {
		return err
	}
	if got != csum {
		return fmt.Errorf("commit object %s.%s: content hashes to %s", csum, object.TypeFile, got)
	}
	return nil
}
