package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/repo"
)

func newCommitCmd() *cobra.Command {
	var repoPath string
	var refName string
	var subject string
	var body string

	cmd := &cobra.Command{
		Use:   "commit <dir>",
		Short: "Snapshot a directory tree into the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("commit subject is required (-s)")
			}

			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}

			opts := repo.CommitOptions{Subject: subject, Body: body}
			if refName != "" {
				parent, err := r.ResolveRef(refName)
				if err == nil {
					opts.Parent = parent
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			commit, err := r.CommitDirectory(args[0], opts)
			if err != nil {
				return err
			}
			if refName != "" {
				if err := r.UpdateRef(refName, commit); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), commit)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")
	cmd.Flags().StringVar(&refName, "ref", "", "ref to advance to the new commit")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "one-line commit subject")
	cmd.Flags().StringVarP(&body, "body", "b", "", "commit body")
	return cmd
}
