// Package object defines the four treestore object kinds and their canonical
// binary encoding. All metadata objects are stored big-endian regardless of
// host byte order so that the bytes feeding an object's checksum are
// platform-independent, and a decoder accepts only the canonical (normal
// form) encoding: a given logical value has exactly one byte representation.
package object

import (
	"errors"
	"fmt"
	"strings"

	"github.com/substratefs/treestore/pkg/checksum"
)

// ObjectType identifies the kind of object stored. File is the only content
// type; dirtree, dirmeta, and commit are metadata and always use the
// canonical binary encoding.
type ObjectType uint8

const (
	TypeFile ObjectType = iota + 1
	TypeDirTree
	TypeDirMeta
	TypeCommit
)

var (
	// ErrInvalidObjectType reports an out-of-range ordinal or unknown tag.
	ErrInvalidObjectType = errors.New("invalid object type")
	// ErrNonCanonical reports a buffer that decodes to a valid value but is
	// not the canonical encoding of that value.
	ErrNonCanonical = errors.New("non-canonical encoding")
	// ErrInvalidMode reports a mode with a disallowed file type or stray bits.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrCorruptHeader reports a malformed file content stream header.
	ErrCorruptHeader = errors.New("corrupt file header")
	// ErrCorruptMetadata reports structurally invalid filesystem metadata
	// such as a bad path component or a checksum of the wrong length.
	ErrCorruptMetadata = errors.New("corrupt filesystem metadata")
)

// String serializes the object type to its canonical tag, used as the file
// extension of loose objects.
func (t ObjectType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirTree:
		return "dirtree"
	case TypeDirMeta:
		return "dirmeta"
	case TypeCommit:
		return "commit"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// ParseObjectType is the reverse of String.
func ParseObjectType(s string) (ObjectType, error) {
	switch s {
	case "file":
		return TypeFile, nil
	case "dirtree":
		return TypeDirTree, nil
	case "dirmeta":
		return TypeDirMeta, nil
	case "commit":
		return TypeCommit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidObjectType, s)
	}
}

// ValidateType reports whether the ordinal b is a defined object type.
func ValidateType(b uint8) (ObjectType, error) {
	t := ObjectType(b)
	if t < TypeFile || t > TypeCommit {
		return 0, fmt.Errorf("%w: ordinal %d", ErrInvalidObjectType, b)
	}
	return t, nil
}

// IsMeta reports whether the type is one of the metadata object kinds.
func (t ObjectType) IsMeta() bool {
	return t != TypeFile
}

// RelativePath returns the loose object path for a checksum and type:
// objects/<first 2 hex>/<remaining 62 hex>.<type>[z]. The trailing z marks a
// zlib-compressed file object; metadata objects are never compressed.
func RelativePath(csum string, t ObjectType, compressed bool) (string, error) {
	if err := checksum.Validate(csum); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("objects/")
	b.WriteString(csum[:2])
	b.WriteByte('/')
	b.WriteString(csum[2:])
	b.WriteByte('.')
	b.WriteString(t.String())
	if !t.IsMeta() && compressed {
		b.WriteByte('z')
	}
	return b.String(), nil
}

// Xattr is one extended attribute name/value pair. Both fields are raw byte
// strings; names are conventionally NUL-free C strings but the encoding does
// not require it.
type Xattr struct {
	Name  []byte
	Value []byte
}

// FileMeta carries the filesystem metadata of a file object. SymlinkTarget
// is empty for regular files. Xattrs must already be in canonical (sorted)
// order when the meta participates in an encoding; see CanonicalizeXattrs.
type FileMeta struct {
	UID           uint32
	GID           uint32
	Mode          uint32
	Rdev          uint32
	SymlinkTarget string
	Xattrs        []Xattr
}

// DirMeta carries the metadata of a directory: ownership, mode, and extended
// attributes. Directory content lives in the companion dirtree object.
type DirMeta struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	Xattrs []Xattr
}

// TreeFile is a file entry of a dirtree: a path component name and the
// checksum of the file object providing its content and metadata.
type TreeFile struct {
	Name     string
	Checksum []byte
}

// TreeDir is a subdirectory entry of a dirtree: the checksums reference the
// subdirectory's dirtree and dirmeta objects.
type TreeDir struct {
	Name         string
	TreeChecksum []byte
	MetaChecksum []byte
}

// DirTree is the ordered pair of file entries and subdirectory entries that
// makes up one directory level of a committed tree.
type DirTree struct {
	Files []TreeFile
	Dirs  []TreeDir
}

// MetaEntry is one key/value pair of a commit's metadata dictionary. The
// canonical encoding keeps entries sorted strictly ascending by key.
type MetaEntry struct {
	Key   string
	Value []byte
}

// RelatedObject names another commit this commit relates to (for example a
// build it was derived from).
type RelatedObject struct {
	Name     string
	Checksum []byte
}

// Commit is the root metadata object of a tree: it binds a content tree and
// its metadata tree together with ancestry and human-readable context.
// Parent is empty for a root commit and exactly 32 bytes otherwise.
type Commit struct {
	Metadata     []MetaEntry
	Parent       []byte
	Related      []RelatedObject
	Subject      string
	Body         string
	Timestamp    uint64
	ContentTree  []byte
	MetadataTree []byte
}
