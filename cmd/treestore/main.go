package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "treestore",
		Short: "Content-addressed object store for directory trees",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newLsCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newChecksumCmd())
	root.AddCommand(newDeltaGenerateCmd())
	root.AddCommand(newDeltaApplyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("treestore 0.1.0-dev")
		},
	}
}
