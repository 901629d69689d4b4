package object

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// CanonicalizeXattrs returns the attributes sorted by name using byte-wise
// comparison. Filesystems do not guarantee a stable enumeration order, so
// the sorted form is the only one that may participate in checksums.
// Duplicate names are kept; the sort is stable so equal names preserve their
// input order.
func CanonicalizeXattrs(xs []Xattr) []Xattr {
	out := make([]Xattr, len(xs))
	copy(out, xs)
	sort.SliceStable(out, func(i, j int) bool {
		return bytes.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}

// ReadXattrs enumerates the extended attributes of path (without following a
// final symlink) and returns them in canonical order. A filesystem that does
// not support extended attributes yields the empty set, not an error.
func ReadXattrs(path string) ([]Xattr, error) {
	sz, err := unix.Llistxattr(path, nil)
	if err != nil {
		if err == unix.ENOTSUP || err == unix.EOPNOTSUPP {
			return nil, nil
		}
		return nil, fmt.Errorf("llistxattr %s: %w", path, err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, fmt.Errorf("llistxattr %s: %w", path, err)
	}

	var xs []Xattr
	for _, name := range bytes.Split(buf[:n], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		value, err := readXattrValue(path, string(name))
		if err != nil {
			return nil, err
		}
		xs = append(xs, Xattr{Name: append([]byte(nil), name...), Value: value})
	}
	return CanonicalizeXattrs(xs), nil
}

func readXattrValue(path, name string) ([]byte, error) {
	sz, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		// The attribute can vanish between list and get.
		if err == unix.ENODATA {
			return nil, nil
		}
		return nil, fmt.Errorf("lgetxattr %s %s: %w", path, name, err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, fmt.Errorf("lgetxattr %s %s: %w", path, name, err)
	}
	return buf[:n], nil
}

// SetXattrs applies each attribute to path, replacing existing values. It
// does not remove attributes absent from xs.
func SetXattrs(path string, xs []Xattr) error {
	for _, x := range xs {
		if err := unix.Lsetxattr(path, string(x.Name), x.Value, 0); err != nil {
			return fmt.Errorf("lsetxattr %s %s: %w", path, x.Name, err)
		}
	}
	return nil
}
