package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

// writeFixtureTree builds a small directory tree with a nested directory and
// a symlink. Both directory modes are pinned so their dirmeta objects stay
// distinct regardless of the environment's umask and temp dir permissions.
func writeFixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "nested.bin"), []byte{0, 1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("hello.txt", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestCommitDirectory(t *testing.T) {
	r := testRepo(t, ModeBare)
	dir := writeFixtureTree(t)

	commit, err := r.CommitDirectory(dir, CommitOptions{Subject: "initial import", Timestamp: 1000})
	if err != nil {
		t.Fatalf("CommitDirectory: %v", err)
	}

	c, err := r.ReadCommit(commit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.Subject != "initial import" || c.Timestamp != 1000 {
		t.Fatalf("commit = %+v", c)
	}
	if c.ParentChecksum() != "" {
		t.Fatalf("parent = %q, want none", c.ParentChecksum())
	}

	tree, err := r.ReadDirTree(checksum.FromBytes(c.ContentTree))
	if err != nil {
		t.Fatalf("ReadDirTree: %v", err)
	}
	if len(tree.Files) != 2 || tree.Files[0].Name != "hello.txt" || tree.Files[1].Name != "link" {
		t.Fatalf("root files = %+v", tree.Files)
	}
	if len(tree.Dirs) != 1 || tree.Dirs[0].Name != "sub" {
		t.Fatalf("root dirs = %+v", tree.Dirs)
	}

	dm, err := r.ReadDirMeta(checksum.FromBytes(c.MetadataTree))
	if err != nil {
		t.Fatalf("ReadDirMeta: %v", err)
	}
	if err := object.ValidateDirMode(dm.Mode); err != nil {
		t.Fatalf("root dirmeta mode %o: %v", dm.Mode, err)
	}

	content, err := r.ReadFileContent(checksum.FromBytes(tree.Files[0].Checksum))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(content, []byte("hello\n")) {
		t.Fatalf("hello.txt content = %q", content)
	}
}

func TestCommitDirectoryDeterministic(t *testing.T) {
	r := testRepo(t, ModeBare)
	dir := writeFixtureTree(t)

	first, err := r.CommitDirectory(dir, CommitOptions{Subject: "s", Timestamp: 7})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.CommitDirectory(dir, CommitOptions{Subject: "s", Timestamp: 7})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("identical snapshot produced %s then %s", first, second)
	}
}

func TestCommitDirectoryParentChain(t *testing.T) {
	r := testRepo(t, ModeBare)
	dir := writeFixtureTree(t)

	first, err := r.CommitDirectory(dir, CommitOptions{Subject: "one", Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.CommitDirectory(dir, CommitOptions{Subject: "two", Timestamp: 2, Parent: first})
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.ReadCommit(second)
	if err != nil {
		t.Fatal(err)
	}
	if c.ParentChecksum() != first {
		t.Fatalf("parent = %s, want %s", c.ParentChecksum(), first)
	}
}

func TestCheckoutFile(t *testing.T) {
	r := testRepo(t, ModeArchive)
	content := []byte("checkout me")
	csum, err := r.WriteFileObject(&object.FileMeta{Mode: 0o100640}, bytes.NewReader(content), uint64(len(content)))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := r.CheckoutFile(csum, dest); err != nil {
		t.Fatalf("CheckoutFile: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("checked out content = %q", got)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o640 {
		t.Fatalf("checked out mode = %o, want 640", fi.Mode().Perm())
	}

	// Checkout refuses to overwrite.
	if err := r.CheckoutFile(csum, dest); err == nil {
		t.Fatal("checkout over an existing file succeeded")
	}
}

func TestCheckoutSymlink(t *testing.T) {
	r := testRepo(t, ModeBare)
	csum, err := r.WriteFileObject(&object.FileMeta{Mode: 0o120777, SymlinkTarget: "hello.txt"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "link")
	if err := r.CheckoutFile(csum, dest); err != nil {
		t.Fatalf("CheckoutFile(symlink): %v", err)
	}
	target, err := os.Readlink(dest)
	if err != nil {
		t.Fatal(err)
	}
	if target != "hello.txt" {
		t.Fatalf("target = %q", target)
	}
}

func TestRefs(t *testing.T) {
	r := testRepo(t, ModeBare)
	dir := writeFixtureTree(t)
	commit, err := r.CommitDirectory(dir, CommitOptions{Subject: "s", Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.UpdateRef("os/stable", commit); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	got, err := r.ResolveRef("os/stable")
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	if got != commit {
		t.Fatalf("ResolveRef = %s, want %s", got, commit)
	}

	refs, err := r.ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["os/stable"] != commit {
		t.Fatalf("ListRefs = %v", refs)
	}

	if err := r.UpdateRef("bad//ref", commit); err == nil {
		t.Fatal("invalid ref name accepted")
	}
}

func TestReachableSetAndContents(t *testing.T) {
	r := testRepo(t, ModeBare)
	dir := writeFixtureTree(t)
	commit, err := r.CommitDirectory(dir, CommitOptions{Subject: "s", Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}

	seen, err := r.ReachableSet(commit)
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}
	// 1 commit, 2 dirtrees, 2 dirmetas, 3 file objects (2 files + symlink).
	if len(seen) != 8 {
		t.Fatalf("reachable set has %d objects, want 8: %v", len(seen), seen)
	}
	if seen[commit] != object.TypeCommit {
		t.Fatalf("commit not in reachable set: %v", seen)
	}

	contents, err := r.CommitContents(commit)
	if err != nil {
		t.Fatalf("CommitContents: %v", err)
	}
	// Regular files only; the symlink is excluded.
	if len(contents) != 2 {
		t.Fatalf("contents = %v", contents)
	}
	foundNested := false
	for _, info := range contents {
		if len(info.Basenames) == 1 && info.Basenames[0] == "nested.bin" {
			foundNested = true
			if info.Size != 4 {
				t.Fatalf("nested.bin size = %d", info.Size)
			}
		}
	}
	if !foundNested {
		t.Fatalf("nested.bin missing from contents: %v", contents)
	}
}
