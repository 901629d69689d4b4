package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

// CommitOptions controls commit object construction in CommitDirectory.
type CommitOptions struct {
	Subject  string
	Body     string
	Parent   string // hex checksum of the parent commit, empty for none
	Metadata []object.MetaEntry
	// Timestamp in seconds since the epoch. Zero means "now". Fixing the
	// timestamp makes commits of identical trees reproducible.
	Timestamp uint64
}

// CommitDirectory snapshots a directory tree into the store and writes a
// commit object pointing at it. It returns the commit checksum. Every file,
// symlink, and directory under dir becomes an object; content already in the
// store is not rewritten.
func (r *Repo) CommitDirectory(dir string, opts CommitOptions) (string, error) {
	treeCsum, metaCsum, err := r.writeTree(dir)
	if err != nil {
		return "", err
	}

	var parent []byte
	if opts.Parent != "" {
		parent, err = checksum.ToBytes(opts.Parent)
		if err != nil {
			return "", fmt.Errorf("commit: parent: %w", err)
		}
	}
	ts := opts.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}

	c := &object.Commit{
		Metadata:     opts.Metadata,
		Parent:       parent,
		Subject:      opts.Subject,
		Body:         opts.Body,
		Timestamp:    ts,
		ContentTree:  treeCsum,
		MetadataTree: metaCsum,
	}
	return r.WriteMetaObject(object.TypeCommit, object.MarshalCommit(c))
}

// writeTree recursively stores the contents of dir, returning the dirtree
// and dirmeta checksums for dir itself.
func (r *Repo) writeTree(dir string) (treeCsum, metaCsum []byte, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}

	var tree object.DirTree
	for _, entry := range entries {
		name := entry.Name()
		if err := object.ValidateFilename(name); err != nil {
			return nil, nil, fmt.Errorf("snapshot %s: %q: %w", dir, name, err)
		}
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			subTree, subMeta, err := r.writeTree(path)
			if err != nil {
				return nil, nil, err
			}
			tree.Dirs = append(tree.Dirs, object.TreeDir{
				Name:         name,
				TreeChecksum: subTree,
				MetaChecksum: subMeta,
			})
			continue
		}

		csum, err := r.writeFileAt(path)
		if err != nil {
			return nil, nil, err
		}
		csumBytes, err := checksum.ToBytes(csum)
		if err != nil {
			return nil, nil, err
		}
		tree.Files = append(tree.Files, object.TreeFile{Name: name, Checksum: csumBytes})
	}

	dirInfo, err := object.FileMetaFromPath(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	dm := &object.DirMeta{
		UID:    dirInfo.UID,
		GID:    dirInfo.GID,
		Mode:   dirInfo.Mode,
		Xattrs: dirInfo.Xattrs,
	}
	dmCsum, err := r.WriteMetaObject(object.TypeDirMeta, object.MarshalDirMeta(dm))
	if err != nil {
		return nil, nil, err
	}

	dtCsum, err := r.WriteMetaObject(object.TypeDirTree, object.MarshalDirTree(&tree))
	if err != nil {
		return nil, nil, err
	}

	treeCsum, err = checksum.ToBytes(dtCsum)
	if err != nil {
		return nil, nil, err
	}
	metaCsum, err = checksum.ToBytes(dmCsum)
	if err != nil {
		return nil, nil, err
	}
	return treeCsum, metaCsum, nil
}

// writeFileAt stores the file or symlink at path as a file object.
func (r *Repo) writeFileAt(path string) (string, error) {
	meta, err := object.FileMetaFromPath(path)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	if object.IsSymlinkMode(meta.Mode) {
		return r.WriteFileObject(meta, nil, 0)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	return r.WriteFileObject(meta, f, uint64(fi.Size()))
}

// ReadCommit reads and decodes a commit object.
func (r *Repo) ReadCommit(csum string) (*object.Commit, error) {
	encoded, err := r.ReadMetaObject(object.TypeCommit, csum)
	if err != nil {
		return nil, err
	}
	return object.UnmarshalCommit(encoded)
}

// ReadDirTree reads and decodes a dirtree object.
func (r *Repo) ReadDirTree(csum string) (*object.DirTree, error) {
	encoded, err := r.ReadMetaObject(object.TypeDirTree, csum)
	if err != nil {
		return nil, err
	}
	return object.UnmarshalDirTree(encoded)
}

// ReadDirMeta reads and decodes a dirmeta object.
func (r *Repo) ReadDirMeta(csum string) (*object.DirMeta, error) {
	encoded, err := r.ReadMetaObject(object.TypeDirMeta, csum)
	if err != nil {
		return nil, err
	}
	return object.UnmarshalDirMeta(encoded)
}
