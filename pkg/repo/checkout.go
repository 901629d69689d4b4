package repo

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/substratefs/treestore/pkg/object"
)

// CheckoutFile materializes a stored file object at dest, restoring mode,
// symlink target, and xattrs. Ownership is restored on a best-effort basis;
// unprivileged processes keep their own uid/gid. dest must not exist.
func (r *Repo) CheckoutFile(csum, dest string) error {
	meta, content, _, closer, err := r.OpenFileObject(csum)
	if err != nil {
		return err
	}
	defer closer.Close()

	if object.IsSymlinkMode(meta.Mode) {
		if err := os.Symlink(meta.SymlinkTarget, dest); err != nil {
			return fmt.Errorf("checkout %s: %w", csum, err)
		}
	} else {
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, os.FileMode(meta.Mode&0o7777))
		if err != nil {
			return fmt.Errorf("checkout %s: %w", csum, err)
		}
		if content != nil {
			if _, err := io.Copy(f, content); err != nil {
				f.Close()
				os.Remove(dest)
				return fmt.Errorf("checkout %s: %w", csum, err)
			}
		}
		if err := f.Close(); err != nil {
			os.Remove(dest)
			return fmt.Errorf("checkout %s: %w", csum, err)
		}
		// Reassert the stored permission bits; O_CREAT perms pass
		// through the umask.
		if err := os.Chmod(dest, os.FileMode(meta.Mode&0o7777)); err != nil {
			return fmt.Errorf("checkout %s: %w", csum, err)
		}
	}

	if err := os.Lchown(dest, int(meta.UID), int(meta.GID)); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("checkout %s: %w", csum, err)
	}
	if err := object.SetXattrs(dest, meta.Xattrs); err != nil {
		return fmt.Errorf("checkout %s: %w", csum, err)
	}
	return nil
}
