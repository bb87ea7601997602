package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/audit"
	"github.com/54b3r/paperrag/internal/version"
)

// NewVersionCmd constructs the `paperrag version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. With --env it also prints the sanitised backend
// configuration the other commands would run with.
func NewVersionCmd() *cobra.Command {
	var showEnv bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the paperrag version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, version.String())
			if !showEnv {
				return
			}
			snap := audit.Snapshot()
			keys := make([]string, 0, len(snap))
			for k := range snap {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s=%s\n", k, snap[k])
			}
		},
	}

	cmd.Flags().BoolVar(&showEnv, "env", false, "Also print the sanitised environment (secrets shown as set/unset)")

	return cmd
}
