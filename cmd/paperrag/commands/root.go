// Package commands defines all Cobra CLI commands for the paperrag binary.
package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/audit"
	"github.com/54b3r/paperrag/internal/config"
	"github.com/54b3r/paperrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paperrag",
		Short: "Semantic search and retrieval-augmented chat over paper abstracts",
		Long: `paperrag indexes conference paper abstracts into a vector index and
answers questions about them.

Papers are loaded from a JSON or YAML export into a local SQLite store, their
abstracts embedded and written to the index (sqlite, qdrant or milvus). Search
returns ranked papers; ask and chat ground a chat model's answer in the
retrieved abstracts.

Backends are selected via environment variables (MODEL_PROVIDER,
EMBEDDING_PROVIDER, INDEX_BACKEND), a .env file, or a YAML config file
(~/.paperrag/config.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env never overrides variables already set in the environment.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("root: failed to load .env: %w", err)
			}

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.paperrag/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
