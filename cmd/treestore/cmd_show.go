package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/repo"
)

func newShowCmd() *cobra.Command {
	var repoPath string

	cmd := &cobra.Command{
		Use:   "show <commit-or-ref>",
		Short: "Show a commit object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}
			csum, err := resolveCommitish(r, args[0])
			if err != nil {
				return err
			}
			c, err := r.ReadCommit(csum)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "commit %s\n", csum)
			if parent := c.ParentChecksum(); parent != "" {
				fmt.Fprintf(out, "Parent: %s\n", parent)
			}
			fmt.Fprintf(out, "Date: %s\n", time.Unix(int64(c.Timestamp), 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "ContentTree: %s\n", checksum.FromBytes(c.ContentTree))
			fmt.Fprintf(out, "MetadataTree: %s\n", checksum.FromBytes(c.MetadataTree))
			for _, m := range c.Metadata {
				fmt.Fprintf(out, "Metadata: %s (%d bytes)\n", m.Key, len(m.Value))
			}
			fmt.Fprintf(out, "\n    %s\n", c.Subject)
			if c.Body != "" {
				fmt.Fprintf(out, "\n    %s\n", c.Body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "repository path")
	return cmd
}
