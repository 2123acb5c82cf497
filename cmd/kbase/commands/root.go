// Package commands defines all Cobra CLI commands for the kbase binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/audit"
	"github.com/54b3r/kbase-go/internal/config"
	"github.com/54b3r/kbase-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbase",
		Short: "kbase: ask questions of your documents",
		Long: `kbase ingests PDF, DOCX and plain-text documents into a vector index and
answers natural-language questions grounded in their content.

Uploads are processed asynchronously by ingestion workers: text is
extracted, split into overlapping word windows, embedded and indexed.
Questions retrieve the most similar chunks and pass them to a chat model.

The chat model is selected via MODEL_PROVIDER, embeddings via
EMBEDDING_PROVIDER, and the vector index via VECTOR_BACKEND, or through a
YAML config file (~/.kbase/config.yaml).
See 'kbase --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbase/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewUploadCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewDocumentsCmd(),
		NewReprocessCmd(),
		NewJobCmd(),
		NewDoctorCmd(),
		NewVersionCmd(),
	)

	return root
}
