package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/kb"
)

// NewReprocessCmd constructs the `kbase reprocess` command, which queues a
// new ingestion job for an existing document.
func NewReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Queue a document for ingestion again",
		Long: `Queue a new ingestion job for a stored document, for example after a
failure or a change of chunking settings. Points are keyed by document and
chunk index, so re-ingesting overwrites the previous vectors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				jobID, err := svc.Reprocess(ctx, id)
				if err != nil {
					return fmt.Errorf("reprocess: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued document %d (job %s)\n", id, jobID)
				return nil
			})
		},
	}
}
