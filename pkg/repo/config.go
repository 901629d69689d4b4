package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Mode selects how file object payloads are stored on disk.
type Mode string

const (
	// ModeBare stores file objects as the framed bare stream: header plus
	// raw content. The stored bytes are exactly the checksummed bytes.
	ModeBare Mode = "bare"

	// ModeArchive stores file objects with a size-carrying header and
	// zlib-compressed content, suitable for serving over the network.
	ModeArchive Mode = "archive-z2"
)

// CurrentRepoVersion is the only repository format version this code reads
// and writes.
const CurrentRepoVersion = 1

// Config is the repository configuration persisted as config.toml at the
// repository root.
type Config struct {
	RepoVersion int  `toml:"repo_version"`
	Mode        Mode `toml:"mode"`
}

func (c *Config) validate() error {
	if c.RepoVersion != CurrentRepoVersion {
		return fmt.Errorf("unsupported repo_version %d (want %d)", c.RepoVersion, CurrentRepoVersion)
	}
	switch c.Mode {
	case ModeBare, ModeArchive:
		return nil
	default:
		return fmt.Errorf("unsupported repository mode %q", c.Mode)
	}
}

func configPath(root string) string {
	return filepath.Join(root, "config.toml")
}

func readConfig(root string) (*Config, error) {
	data, err := os.ReadFile(configPath(root))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}

func writeConfig(root string, cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	tmp, err := os.CreateTemp(root, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, configPath(root)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
