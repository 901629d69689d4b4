package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/repo"
)

func newDeltaGenerateCmd() *cobra.Command {
	var repoPath string
	var from string
	var threshold int

	cmd := &cobra.Command{
		Use:   "delta-generate <to-commit-or-ref> <output-prefix>",
		Short: "Generate a static delta for a commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}
			to, err := resolveCommitish(r, args[0])
			if err != nil {
				return err
			}
			if from != "" {
				if from, err = resolveCommitish(r, from); err != nil {
					return err
				}
			}

			superblock, parts, err := r.GenerateDelta(from, to, repo.GenerateDeltaOptions{
				SimilarityThreshold: threshold,
			})
			if err != nil {
				return err
			}

			prefix := args[1]
			if err := os.WriteFile(prefix+".superblock", superblock, 0o644); err != nil {
				return err
			}
			for i, wire := range parts {
				if err := os.WriteFile(fmt.Sprintf("%s.part%d", prefix, i), wire, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote superblock and %d part(s) to %s.*\n", len(parts), prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")
	cmd.Flags().StringVar(&from, "from", "", "commit the receiver already has")
	cmd.Flags().IntVar(&threshold, "similarity", 50, "minimum percent similarity for patch encoding")
	return cmd
}

func newDeltaApplyCmd() *cobra.Command {
	var repoPath string

	cmd := &cobra.Command{
		Use:   "delta-apply <superblock> [part...]",
		Short: "Apply a static delta to the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}

			superblock, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read superblock: %w", err)
			}
			parts := make([][]byte, 0, len(args)-1)
			for _, name := range args[1:] {
				wire, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("read part %s: %w", name, err)
				}
				parts = append(parts, wire)
			}

			commit, err := r.ApplyDelta(superblock, parts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), commit)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")
	return cmd
}
