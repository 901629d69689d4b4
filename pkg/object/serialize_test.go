package object

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/substratefs/treestore/pkg/checksum"
)

func testChecksum(seed byte) []byte {
	sum := sha256.Sum256([]byte{seed})
	return sum[:]
}

func TestDirMetaRoundTrip(t *testing.T) {
	in := &DirMeta{
		UID:  1000,
		GID:  1000,
		Mode: 0o040755,
		Xattrs: []Xattr{
			{Name: []byte("user.key"), Value: []byte("value")},
		},
	}
	out, err := UnmarshalDirMeta(MarshalDirMeta(in))
	if err != nil {
		t.Fatalf("UnmarshalDirMeta: %v", err)
	}
	if out.UID != in.UID || out.GID != in.GID || out.Mode != in.Mode {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if len(out.Xattrs) != 1 || string(out.Xattrs[0].Name) != "user.key" {
		t.Fatalf("xattrs = %+v", out.Xattrs)
	}
}

func TestDirMetaXattrOrderInvariant(t *testing.T) {
	a := &DirMeta{Mode: 0o040755, Xattrs: []Xattr{
		{Name: []byte("user.b"), Value: []byte("2")},
		{Name: []byte("user.a"), Value: []byte("1")},
	}}
	b := &DirMeta{Mode: 0o040755, Xattrs: []Xattr{
		{Name: []byte("user.a"), Value: []byte("1")},
		{Name: []byte("user.b"), Value: []byte("2")},
	}}
	if !bytes.Equal(MarshalDirMeta(a), MarshalDirMeta(b)) {
		t.Fatal("xattr input order changed the encoding")
	}
}

func TestDirMetaRejectsNonDirMode(t *testing.T) {
	in := &DirMeta{Mode: 0o100644}
	if _, err := UnmarshalDirMeta(MarshalDirMeta(in)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("regular-file mode in dirmeta: %v, want ErrInvalidMode", err)
	}
}

func TestDirMetaRejectsTrailingBytes(t *testing.T) {
	data := append(MarshalDirMeta(&DirMeta{Mode: 0o040755}), 0xff)
	if _, err := UnmarshalDirMeta(data); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("trailing byte: %v, want ErrNonCanonical", err)
	}
}

func TestDirTreeRoundTripAndSorting(t *testing.T) {
	in := &DirTree{
		Files: []TreeFile{
			{Name: "zz", Checksum: testChecksum(1)},
			{Name: "aa", Checksum: testChecksum(2)},
		},
		Dirs: []TreeDir{
			{Name: "sub", TreeChecksum: testChecksum(3), MetaChecksum: testChecksum(4)},
		},
	}
	sorted := &DirTree{
		Files: []TreeFile{in.Files[1], in.Files[0]},
		Dirs:  in.Dirs,
	}
	enc := MarshalDirTree(in)
	if !bytes.Equal(enc, MarshalDirTree(sorted)) {
		t.Fatal("file entry input order changed the encoding")
	}

	out, err := UnmarshalDirTree(enc)
	if err != nil {
		t.Fatalf("UnmarshalDirTree: %v", err)
	}
	if len(out.Files) != 2 || out.Files[0].Name != "aa" || out.Files[1].Name != "zz" {
		t.Fatalf("files = %+v", out.Files)
	}
	if len(out.Dirs) != 1 || out.Dirs[0].Name != "sub" {
		t.Fatalf("dirs = %+v", out.Dirs)
	}
	if !bytes.Equal(out.Dirs[0].MetaChecksum, testChecksum(4)) {
		t.Fatal("dir meta checksum mangled in round trip")
	}
}

func TestDirTreeRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		tree *DirTree
		want error
	}{
		{"empty name", &DirTree{Files: []TreeFile{{Name: "", Checksum: testChecksum(1)}}}, ErrCorruptMetadata},
		{"dot", &DirTree{Files: []TreeFile{{Name: ".", Checksum: testChecksum(1)}}}, ErrCorruptMetadata},
		{"dotdot", &DirTree{Files: []TreeFile{{Name: "..", Checksum: testChecksum(1)}}}, ErrCorruptMetadata},
		{"slash", &DirTree{Files: []TreeFile{{Name: "a/b", Checksum: testChecksum(1)}}}, ErrCorruptMetadata},
		{"short checksum", &DirTree{Files: []TreeFile{{Name: "ok", Checksum: []byte{1, 2}}}}, ErrCorruptMetadata},
		{"short subdir checksum", &DirTree{Dirs: []TreeDir{{Name: "d", TreeChecksum: testChecksum(1), MetaChecksum: []byte{0}}}}, ErrCorruptMetadata},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnmarshalDirTree(MarshalDirTree(tc.tree)); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCommitRoundTrip(t *testing.T) {
	in := &Commit{
		Metadata: []MetaEntry{
			{Key: "version", Value: []byte("41")},
			{Key: "arch", Value: []byte("x86_64")},
		},
		Parent:       testChecksum(9),
		Related:      []RelatedObject{{Name: "build", Checksum: testChecksum(8)}},
		Subject:      "nightly build",
		Body:         "full tree rebuild",
		Timestamp:    1700000000,
		ContentTree:  testChecksum(1),
		MetadataTree: testChecksum(2),
	}
	out, err := UnmarshalCommit(MarshalCommit(in))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if out.Subject != in.Subject || out.Body != in.Body || out.Timestamp != in.Timestamp {
		t.Fatalf("round trip = %+v", out)
	}
	// Metadata comes back sorted by key.
	if out.Metadata[0].Key != "arch" || out.Metadata[1].Key != "version" {
		t.Fatalf("metadata = %+v", out.Metadata)
	}
	if out.ParentChecksum() != checksum.FromBytes(testChecksum(9)) {
		t.Fatalf("parent = %q", out.ParentChecksum())
	}
}

func TestCommitRootParent(t *testing.T) {
	in := &Commit{
		Subject:      "first",
		Timestamp:    1,
		ContentTree:  testChecksum(1),
		MetadataTree: testChecksum(2),
	}
	out, err := UnmarshalCommit(MarshalCommit(in))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if out.ParentChecksum() != "" {
		t.Fatalf("root parent = %q, want empty", out.ParentChecksum())
	}
}

func TestCommitRejectsUnsortedMetadata(t *testing.T) {
	// Hand-build an encoding with descending keys; MarshalCommit would sort
	// them, so this byte stream can only come from a hostile source.
	var e Encoder
	e.PutUvarint(2)
	e.PutString("b")
	e.PutBytes(nil)
	e.PutString("a")
	e.PutBytes(nil)
	e.PutBytes(nil)    // parent
	e.PutUvarint(0)    // related
	e.PutString("s")   // subject
	e.PutString("")    // body
	e.PutU64(0)        // timestamp
	e.PutBytes(testChecksum(1))
	e.PutBytes(testChecksum(2))
	if _, err := UnmarshalCommit(e.Bytes()); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("unsorted metadata: %v, want ErrNonCanonical", err)
	}
}

func TestCommitRejectsDuplicateMetadataKeys(t *testing.T) {
	var e Encoder
	e.PutUvarint(2)
	e.PutString("a")
	e.PutBytes(nil)
	e.PutString("a")
	e.PutBytes(nil)
	e.PutBytes(nil)
	e.PutUvarint(0)
	e.PutString("s")
	e.PutString("")
	e.PutU64(0)
	e.PutBytes(testChecksum(1))
	e.PutBytes(testChecksum(2))
	if _, err := UnmarshalCommit(e.Bytes()); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("duplicate metadata key: %v, want ErrNonCanonical", err)
	}
}

func TestCommitRejectsBadParentLength(t *testing.T) {
	in := &Commit{
		Parent:       []byte{1, 2, 3},
		Subject:      "s",
		ContentTree:  testChecksum(1),
		MetadataTree: testChecksum(2),
	}
	if _, err := UnmarshalCommit(MarshalCommit(in)); !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("3-byte parent: %v, want ErrCorruptMetadata", err)
	}
}

func TestCommitRejectsOverlongVarint(t *testing.T) {
	enc := MarshalCommit(&Commit{
		Subject:      "s",
		ContentTree:  testChecksum(1),
		MetadataTree: testChecksum(2),
	})
	// The encoding opens with the metadata count 0 as the single byte 0x00.
	// Respell it as the two-byte 0x80 0x00: same value, different bytes.
	if enc[0] != 0x00 {
		t.Fatalf("expected leading zero varint, got %#x", enc[0])
	}
	hostile := append([]byte{0x80, 0x00}, enc[1:]...)
	if _, err := UnmarshalCommit(hostile); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("overlong varint: %v, want ErrNonCanonical", err)
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	in := &FileMeta{
		UID:  0,
		GID:  0,
		Mode: 0o100644,
		Xattrs: []Xattr{
			{Name: []byte("security.selinux"), Value: []byte("system_u:object_r:etc_t:s0")},
		},
	}
	out, err := UnmarshalFileHeader(MarshalFileHeader(in))
	if err != nil {
		t.Fatalf("UnmarshalFileHeader: %v", err)
	}
	if out.Mode != in.Mode || len(out.Xattrs) != 1 {
		t.Fatalf("round trip = %+v", out)
	}
}

func TestZlibFileHeaderCarriesSize(t *testing.T) {
	in := &FileMeta{Mode: 0o100644}
	out, size, err := UnmarshalZlibFileHeader(MarshalZlibFileHeader(in, 12345))
	if err != nil {
		t.Fatalf("UnmarshalZlibFileHeader: %v", err)
	}
	if size != 12345 {
		t.Fatalf("size = %d, want 12345", size)
	}
	if out.Mode != in.Mode {
		t.Fatalf("mode = %o", out.Mode)
	}
}

func TestFileHeaderSymlink(t *testing.T) {
	in := &FileMeta{Mode: 0o120777, SymlinkTarget: "../usr/bin/env"}
	out, err := UnmarshalFileHeader(MarshalFileHeader(in))
	if err != nil {
		t.Fatalf("UnmarshalFileHeader: %v", err)
	}
	if out.SymlinkTarget != in.SymlinkTarget {
		t.Fatalf("target = %q, want %q", out.SymlinkTarget, in.SymlinkTarget)
	}
}

func TestFileHeaderRejectsBadModes(t *testing.T) {
	bad := []uint32{
		0o040755,  // directory
		0o010644,  // fifo
		0o140755,  // socket
		0o020644,  // char device
		0o060644,  // block device
		0o100644 | 1<<16, // stray bit above the type field
	}
	for _, mode := range bad {
		in := &FileMeta{Mode: mode}
		if _, err := UnmarshalFileHeader(MarshalFileHeader(in)); !errors.Is(err, ErrInvalidMode) {
			t.Errorf("mode %o: %v, want ErrInvalidMode", mode, err)
		}
	}
	good := []uint32{0o100644, 0o100755, 0o104755, 0o100000, 0o120777}
	for _, mode := range good {
		if err := ValidateFileMode(mode); err != nil {
			t.Errorf("mode %o: %v, want nil", mode, err)
		}
	}
}
