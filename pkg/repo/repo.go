package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAlreadyInitialized is returned by Init when the target directory already
// contains a repository.
var ErrAlreadyInitialized = errors.New("repository already initialized")

// Repo is an opened content-addressed object repository rooted at a
// directory on disk:
//
//	<root>/config.toml
//	<root>/objects/<2 hex>/<62 hex>.<type>[z]
//	<root>/tmp/
//	<root>/refs/heads/<name>
type Repo struct {
	Root string
	Mode Mode
}

// Init creates a new repository at root with the given mode and opens it.
// The directory may exist but must not already hold a repository.
func Init(root string, mode Mode) (*Repo, error) {
	if _, err := os.Stat(configPath(root)); err == nil {
		return nil, fmt.Errorf("init %s: %w", root, ErrAlreadyInitialized)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("init %s: %w", root, err)
	}

	for _, dir := range []string{
		root,
		filepath.Join(root, "objects"),
		filepath.Join(root, "tmp"),
		filepath.Join(root, "refs", "heads"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("init %s: %w", root, err)
		}
	}

	cfg := &Config{RepoVersion: CurrentRepoVersion, Mode: mode}
	if err := writeConfig(root, cfg); err != nil {
		return nil, fmt.Errorf("init %s: %w", root, err)
	}
	return &Repo{Root: root, Mode: mode}, nil
}

// Open opens an existing repository rooted at root.
func Open(root string) (*Repo, error) {
	cfg, err := readConfig(root)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", root, err)
	}
	return &Repo{Root: root, Mode: cfg.Mode}, nil
}

func (r *Repo) tmpDir() string {
	return filepath.Join(r.Root, "tmp")
}
