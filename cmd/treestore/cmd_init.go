package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/repo"
)

func newInitCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty treestore repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			r, err := repo.Init(abs, repo.Mode(mode))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty %s repository in %s\n", r.Mode, r.Root)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(repo.ModeBare), "repository mode (bare or archive-z2)")
	return cmd
}
