package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/version"
)

// NewVersionCmd constructs the `kbase version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. Falls back to "dev"/"unknown" for local builds.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kbase version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kbase %s\n", version.String())
		},
	}
}
