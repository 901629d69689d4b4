package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/substratefs/treestore/pkg/object"
)

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <path>",
		Short: "Compute the content address of a file or symlink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := <-object.ChecksumPathAsync(cmd.Context(), args[0])
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Checksum)
			return nil
		},
	}
}
