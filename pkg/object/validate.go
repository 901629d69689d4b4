package object

import (
	"fmt"
	"strings"

	"github.com/substratefs/treestore/pkg/checksum"
)

// Unix mode bits. Spelled out here rather than taken from a syscall package
// because they are part of the on-disk format, not a host property.
const (
	modeTypeMask = 0o170000 // S_IFMT
	modeRegular  = 0o100000 // S_IFREG
	modeSymlink  = 0o120000 // S_IFLNK
	modeDir      = 0o040000 // S_IFDIR

	modePermMask = 0o7777 // permission + setuid/setgid/sticky
)

// validateModePerms rejects any bit outside the file-type field and the
// permission/setuid/setgid/sticky bits.
func validateModePerms(mode uint32) error {
	if stray := mode &^ (modeTypeMask | modePermMask); stray != 0 {
		return fmt.Errorf("%w: %o has stray bits %o", ErrInvalidMode, mode, stray)
	}
	return nil
}

// ValidateFileMode checks that mode describes a regular file or symlink with
// no bits beyond type and permissions. Pipes, sockets, and device nodes are
// not representable as file objects.
func ValidateFileMode(mode uint32) error {
	switch mode & modeTypeMask {
	case modeRegular, modeSymlink:
	default:
		return fmt.Errorf("%w: %o is not a regular file or symlink", ErrInvalidMode, mode)
	}
	return validateModePerms(mode)
}

// ValidateDirMode checks that mode describes a directory with no stray bits.
func ValidateDirMode(mode uint32) error {
	if mode&modeTypeMask != modeDir {
		return fmt.Errorf("%w: %o is not a directory", ErrInvalidMode, mode)
	}
	return validateModePerms(mode)
}

// IsSymlinkMode reports whether mode has the symlink file type.
func IsSymlinkMode(mode uint32) bool {
	return mode&modeTypeMask == modeSymlink
}

// IsRegularMode reports whether mode has the regular-file type.
func IsRegularMode(mode uint32) bool {
	return mode&modeTypeMask == modeRegular
}

// ValidateFilename checks that name is a single valid path component:
// non-empty, no separator, and neither "." nor "..".
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty filename", ErrCorruptMetadata)
	case name == "." || name == "..":
		return fmt.Errorf("%w: invalid filename %q", ErrCorruptMetadata, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: filename %q contains '/'", ErrCorruptMetadata, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: filename %q contains NUL", ErrCorruptMetadata, name)
	}
	return nil
}

func validateCsumBytes(what string, csum []byte) error {
	if len(csum) != checksum.Size {
		return fmt.Errorf("%w: %s checksum is %d bytes, expected %d",
			ErrCorruptMetadata, what, len(csum), checksum.Size)
	}
	return nil
}

// ValidateChecksumBytes checks that csum is exactly 32 bytes.
func ValidateChecksumBytes(csum []byte) error {
	return validateCsumBytes("object", csum)
}
