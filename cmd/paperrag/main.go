// Command paperrag indexes conference paper abstracts for semantic search and
// answers questions about them with a retrieval-augmented chat model. It
// provides a CLI interface (via Cobra) and an HTTP JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/paperrag/cmd/paperrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
