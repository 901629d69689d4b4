package repo

import (
	"fmt"
	"path"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/delta"
	"github.com/substratefs/treestore/pkg/object"
)

// ReachableSet returns every object reachable from the given commit by
// following tree references, keyed by checksum. The commit itself is
// included.
func (r *Repo) ReachableSet(commit string) (map[string]object.ObjectType, error) {
	out := make(map[string]object.ObjectType)
	c, err := r.ReadCommit(commit)
	if err != nil {
		return nil, err
	}
	out[commit] = object.TypeCommit
	out[checksum.FromBytes(c.MetadataTree)] = object.TypeDirMeta
	if err := r.walkTree(checksum.FromBytes(c.ContentTree), "/", out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// CommitContents describes every regular file reachable from a commit for
// delta generation: content checksum to size and the basenames it appears
// under.
func (r *Repo) CommitContents(commit string) (map[string]delta.ContentInfo, error) {
	c, err := r.ReadCommit(commit)
	if err != nil {
		return nil, err
	}
	contents := make(map[string]delta.ContentInfo)
	seen := make(map[string]object.ObjectType)
	if err := r.walkTree(checksum.FromBytes(c.ContentTree), "/", seen, contents); err != nil {
		return nil, err
	}
	return contents, nil
}

// walkTree walks a dirtree recursively, recording every referenced object in
// seen and, when contents is non-nil, size and basename info for each
// regular file object.
func (r *Repo) walkTree(treeCsum, prefix string, seen map[string]object.ObjectType, contents map[string]delta.ContentInfo) error {
	if _, ok := seen[treeCsum]; ok {
		return nil
	}
	seen[treeCsum] = object.TypeDirTree

	tree, err := r.ReadDirTree(treeCsum)
	if err != nil {
		return fmt.Errorf("walk tree %s: %w", treeCsum, err)
	}

	for _, f := range tree.Files {
		csum := checksum.FromBytes(f.Checksum)
		first := false
		if _, ok := seen[csum]; !ok {
			seen[csum] = object.TypeFile
			first = true
		}
		if contents == nil {
			continue
		}
		meta, _, size, closer, err := r.OpenFileObject(csum)
		if err != nil {
			return err
		}
		closer.Close()
		if !object.IsRegularMode(meta.Mode) {
			continue
		}
		info := contents[csum]
		if first {
			info.Size = size
		}
		info.Basenames = append(info.Basenames, path.Base(path.Join(prefix, f.Name)))
		contents[csum] = info
	}

	for _, d := range tree.Dirs {
		seen[checksum.FromBytes(d.MetaChecksum)] = object.TypeDirMeta
		if err := r.walkTree(checksum.FromBytes(d.TreeChecksum), path.Join(prefix, d.Name), seen, contents); err != nil {
			return err
		}
	}
	return nil
}
