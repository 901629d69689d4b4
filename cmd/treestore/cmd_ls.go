package main

import (
	"fmt"
	"io"
	"path"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/repo"
)

func newLsCmd() *cobra.Command {
	var repoPath string

	cmd := &cobra.Command{
		Use:   "ls <commit-or-ref>",
		Short: "List the tree of a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}
			commit, err := resolveCommitish(r, args[0])
			if err != nil {
				return err
			}
			c, err := r.ReadCommit(commit)
			if err != nil {
				return err
			}
			return lsTree(cmd.OutOrStdout(), r, checksum.FromBytes(c.ContentTree), "/")
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")
	return cmd
}

func lsTree(w io.Writer, r *repo.Repo, treeCsum, prefix string) error {
	tree, err := r.ReadDirTree(treeCsum)
	if err != nil {
		return err
	}
	for _, f := range tree.Files {
		fmt.Fprintf(w, "%s %s\n", checksum.FromBytes(f.Checksum), path.Join(prefix, f.Name))
	}
	for _, d := range tree.Dirs {
		sub := checksum.FromBytes(d.TreeChecksum)
		fmt.Fprintf(w, "%s %s/\n", sub, path.Join(prefix, d.Name))
		if err := lsTree(w, r, sub, path.Join(prefix, d.Name)); err != nil {
			return err
		}
	}
	return nil
}

// resolveCommitish accepts either a full hex checksum or a local ref name.
func resolveCommitish(r *repo.Repo, arg string) (string, error) {
	if checksum.Validate(arg) == nil {
		return arg, nil
	}
	return r.ResolveRef(arg)
}
