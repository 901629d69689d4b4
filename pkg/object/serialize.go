package object

import (
	"fmt"
	"sort"

	"github.com/substratefs/treestore/pkg/checksum"
)

// ---------------------------------------------------------------------------
// DirMeta
// ---------------------------------------------------------------------------

// MarshalDirMeta serializes a DirMeta: (uid u32, gid u32, mode u32, xattrs).
// Xattrs are sorted into canonical order as part of encoding.
func MarshalDirMeta(m *DirMeta) []byte {
	var e Encoder
	e.PutU32(m.UID)
	e.PutU32(m.GID)
	e.PutU32(m.Mode)
	e.PutXattrs(CanonicalizeXattrs(m.Xattrs))
	return e.Bytes()
}

// UnmarshalDirMeta decodes and structurally validates a dirmeta object. The
// input is treated as untrusted: non-canonical buffers and modes that are
// not a directory are rejected.
func UnmarshalDirMeta(data []byte) (*DirMeta, error) {
	d := NewDecoder(data)
	m := &DirMeta{}
	var err error
	if m.UID, err = d.U32(); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	if m.GID, err = d.U32(); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	if m.Mode, err = d.U32(); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	if m.Xattrs, err = d.Xattrs(); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	if err := ValidateDirMode(m.Mode); err != nil {
		return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// DirTree
// ---------------------------------------------------------------------------

// MarshalDirTree serializes a DirTree:
// (files: a(name, csum32), dirs: a(name, treeCsum32, metaCsum32)).
// Entries are sorted by name for deterministic output.
func MarshalDirTree(t *DirTree) []byte {
	files := make([]TreeFile, len(t.Files))
	copy(files, t.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	dirs := make([]TreeDir, len(t.Dirs))
	copy(dirs, t.Dirs)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	var e Encoder
	e.PutUvarint(uint64(len(files)))
	for _, f := range files {
		e.PutString(f.Name)
		e.PutBytes(f.Checksum)
	}
	e.PutUvarint(uint64(len(dirs)))
	for _, s := range dirs {
		e.PutString(s.Name)
		e.PutBytes(s.TreeChecksum)
		e.PutBytes(s.MetaChecksum)
	}
	return e.Bytes()
}

// UnmarshalDirTree decodes and structurally validates a dirtree object:
// every name must be a single valid path component and every checksum field
// exactly 32 bytes.
func UnmarshalDirTree(data []byte) (*DirTree, error) {
	d := NewDecoder(data)
	t := &DirTree{}

	nFiles, err := d.ArrayLen("file entries", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal dirtree: %w", err)
	}
	t.Files = make([]TreeFile, 0, nFiles)
	for i := 0; i < nFiles; i++ {
		name, err := d.String("file name")
		if err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		csum, err := d.Bytes("file checksum")
		if err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		if err := ValidateFilename(name); err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		if err := validateCsumBytes("file entry", csum); err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		t.Files = append(t.Files, TreeFile{Name: name, Checksum: csum})
	}

	nDirs, err := d.ArrayLen("subdir entries", 3)
	if err != nil {
		return nil, fmt.Errorf("unmarshal dirtree: %w", err)
	}
	t.Dirs = make([]TreeDir, 0, nDirs)
	for i := 0; i < nDirs; i++ {
		name, err := d.String("subdir name")
		if err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		tc, err := d.Bytes("subdir tree checksum")
		if err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		mc, err := d.Bytes("subdir meta checksum")
		if err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		if err := ValidateFilename(name); err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		if err := validateCsumBytes("subdir tree", tc); err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		if err := validateCsumBytes("subdir meta", mc); err != nil {
			return nil, fmt.Errorf("unmarshal dirtree: %w", err)
		}
		t.Dirs = append(t.Dirs, TreeDir{Name: name, TreeChecksum: tc, MetaChecksum: mc})
	}

	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("unmarshal dirtree: %w", err)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// MarshalCommit serializes a Commit: (metadata a(s,ay) sorted by key,
// parent ay, related a(s,ay), subject s, body s, timestamp u64,
// contentTree ay, metadataTree ay).
func MarshalCommit(c *Commit) []byte {
	meta := make([]MetaEntry, len(c.Metadata))
	copy(meta, c.Metadata)
	sort.Slice(meta, func(i, j int) bool { return meta[i].Key < meta[j].Key })

	var e Encoder
	e.PutUvarint(uint64(len(meta)))
	for _, kv := range meta {
		e.PutString(kv.Key)
		e.PutBytes(kv.Value)
	}
	e.PutBytes(c.Parent)
	e.PutUvarint(uint64(len(c.Related)))
	for _, r := range c.Related {
		e.PutString(r.Name)
		e.PutBytes(r.Checksum)
	}
	e.PutString(c.Subject)
	e.PutString(c.Body)
	e.PutU64(c.Timestamp)
	e.PutBytes(c.ContentTree)
	e.PutBytes(c.MetadataTree)
	return e.Bytes()
}

// UnmarshalCommit decodes and structurally validates a commit object. The
// parent checksum must be empty or 32 bytes; both tree checksums must be
// exactly 32 bytes; metadata keys must be strictly ascending.
func UnmarshalCommit(data []byte) (*Commit, error) {
	d := NewDecoder(data)
	c := &Commit{}

	nMeta, err := d.ArrayLen("metadata entries", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	c.Metadata = make([]MetaEntry, 0, nMeta)
	prevKey := ""
	for i := 0; i < nMeta; i++ {
		key, err := d.String("metadata key")
		if err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		val, err := d.Bytes("metadata value")
		if err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		if i > 0 && key <= prevKey {
			return nil, fmt.Errorf("unmarshal commit: %w: metadata key %q not strictly ascending", ErrNonCanonical, key)
		}
		prevKey = key
		c.Metadata = append(c.Metadata, MetaEntry{Key: key, Value: val})
	}

	if c.Parent, err = d.Bytes("parent checksum"); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	nRel, err := d.ArrayLen("related objects", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	c.Related = make([]RelatedObject, 0, nRel)
	for i := 0; i < nRel; i++ {
		name, err := d.String("related name")
		if err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		csum, err := d.Bytes("related checksum")
		if err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		if err := validateCsumBytes("related object", csum); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		c.Related = append(c.Related, RelatedObject{Name: name, Checksum: csum})
	}
	if c.Subject, err = d.String("subject"); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if c.Body, err = d.String("body"); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if c.Timestamp, err = d.U64(); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if c.ContentTree, err = d.Bytes("content tree checksum"); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if c.MetadataTree, err = d.Bytes("metadata tree checksum"); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}

	if len(c.Parent) != 0 {
		if err := validateCsumBytes("parent", c.Parent); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
	}
	if err := validateCsumBytes("content tree", c.ContentTree); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if err := validateCsumBytes("metadata tree", c.MetadataTree); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return c, nil
}

// ParentChecksum returns the commit's parent as a hex string, or "" for a
// root commit.
func (c *Commit) ParentChecksum() string {
	if len(c.Parent) == 0 {
		return ""
	}
	return checksum.FromBytes(c.Parent)
}

// ---------------------------------------------------------------------------
// File headers
// ---------------------------------------------------------------------------

// MarshalFileHeader serializes the bare file header:
// (uid u32, gid u32, mode u32, rdev u32, symlink target s, xattrs).
// Bare streams carry no size field; content length is inferred from the
// total stream length.
func MarshalFileHeader(m *FileMeta) []byte {
	var e Encoder
	e.PutU32(m.UID)
	e.PutU32(m.GID)
	e.PutU32(m.Mode)
	e.PutU32(m.Rdev)
	e.PutString(m.SymlinkTarget)
	e.PutXattrs(CanonicalizeXattrs(m.Xattrs))
	return e.Bytes()
}

// MarshalZlibFileHeader serializes the compressed-stream file header, which
// prefixes an explicit size because the on-disk compressed length does not
// equal the logical content size.
func MarshalZlibFileHeader(m *FileMeta, size uint64) []byte {
	var e Encoder
	e.PutU64(size)
	e.PutU32(m.UID)
	e.PutU32(m.GID)
	e.PutU32(m.Mode)
	e.PutU32(m.Rdev)
	e.PutString(m.SymlinkTarget)
	e.PutXattrs(CanonicalizeXattrs(m.Xattrs))
	return e.Bytes()
}

func unmarshalFileHeaderBody(d *Decoder, m *FileMeta) error {
	var err error
	if m.UID, err = d.U32(); err != nil {
		return err
	}
	if m.GID, err = d.U32(); err != nil {
		return err
	}
	if m.Mode, err = d.U32(); err != nil {
		return err
	}
	if m.Rdev, err = d.U32(); err != nil {
		return err
	}
	if m.SymlinkTarget, err = d.String("symlink target"); err != nil {
		return err
	}
	if m.Xattrs, err = d.Xattrs(); err != nil {
		return err
	}
	return d.Finish()
}

// UnmarshalFileHeader decodes and validates a bare file header. Only regular
// files and symlinks are representable as file objects.
func UnmarshalFileHeader(data []byte) (*FileMeta, error) {
	d := NewDecoder(data)
	m := &FileMeta{}
	if err := unmarshalFileHeaderBody(d, m); err != nil {
		return nil, fmt.Errorf("unmarshal file header: %w", err)
	}
	if err := ValidateFileMode(m.Mode); err != nil {
		return nil, fmt.Errorf("unmarshal file header: %w", err)
	}
	return m, nil
}

// UnmarshalZlibFileHeader decodes and validates a compressed-stream file
// header, returning the authoritative content size alongside the metadata.
func UnmarshalZlibFileHeader(data []byte) (*FileMeta, uint64, error) {
	d := NewDecoder(data)
	size, err := d.U64()
	if err != nil {
		return nil, 0, fmt.Errorf("unmarshal zlib file header: %w", err)
	}
	m := &FileMeta{}
	if err := unmarshalFileHeaderBody(d, m); err != nil {
		return nil, 0, fmt.Errorf("unmarshal zlib file header: %w", err)
	}
	if err := ValidateFileMode(m.Mode); err != nil {
		return nil, 0, fmt.Errorf("unmarshal zlib file header: %w", err)
	}
	return m, size, nil
}
