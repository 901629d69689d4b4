package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/ref"
)

func (r *Repo) refPath(name string) string {
	return filepath.Join(r.Root, "refs", "heads", filepath.FromSlash(name))
}

// UpdateRef points a local ref at a commit, creating it if needed.
func (r *Repo) UpdateRef(name, commit string) error {
	if err := ref.ValidateRef(name); err != nil {
		return err
	}
	if err := checksum.Validate(commit); err != nil {
		return err
	}
	path := r.refPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(r.tmpDir(), "ref-*")
	if err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(commit + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	return nil
}

// ResolveRef returns the commit checksum a local ref points at.
func (r *Repo) ResolveRef(name string) (string, error) {
	if err := ref.ValidateRef(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(r.refPath(name))
	if err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", name, err)
	}
	commit := strings.TrimSpace(string(data))
	if err := checksum.Validate(commit); err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", name, err)
	}
	return commit, nil
}

// ListRefs enumerates local refs, mapping ref name to commit checksum.
func (r *Repo) ListRefs() (map[string]string, error) {
	root := filepath.Join(r.Root, "refs", "heads")
	refs := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		commit, err := r.ResolveRef(name)
		if err != nil {
			return err
		}
		refs[name] = commit
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
