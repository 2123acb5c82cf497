package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/store"
)

// withService opens a runtime without a chat model, runs fn against its
// service and closes the runtime.
func withService(ctx context.Context, fn func(context.Context, *kb.Service) error) error {
	log := logging.New()
	ctx = logging.WithLogger(ctx, log)
	rt, err := openRuntime(ctx, log, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.service)
}

// parseDocumentID parses a positive document id argument.
func parseDocumentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", arg)
	}
	return id, nil
}

// NewDocumentsCmd constructs the `kbase documents` command group.
func NewDocumentsCmd() *cobra.Command {
	var status string
	var limit, offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List and manage uploaded documents",
		Long: `List uploaded documents, newest first, with their ingestion status.

Examples:
  kbase documents
  kbase documents --status failed
  kbase documents show 12
  kbase documents delete 12
  kbase documents stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.Status(status)
			if st != "" && !slices.Contains([]store.Status{store.StatusPending, store.StatusProcessed, store.StatusFailed}, st) {
				return fmt.Errorf("documents: invalid --status %q (valid: pending, processed, failed)", status)
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				docs, err := svc.Documents(ctx, store.ListOptions{Status: st, Limit: limit, Offset: offset})
				if err != nil {
					return fmt.Errorf("documents: %w", err)
				}
				if asJSON {
					return printJSON(cmd, docs)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tFILENAME\tFORMAT\tSTATUS\tCHUNKS\tUPLOADED\tPROCESSED")
				for _, d := range docs {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
						d.ID, d.Filename, d.Format, d.Status, d.ChunkCount, formatTime(&d.UploadedAt), formatTime(d.ProcessedAt))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list documents with this status (pending, processed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of documents")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of documents to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print documents as JSON")

	cmd.AddCommand(newDocumentShowCmd(), newDocumentDeleteCmd(), newStatsCmd())
	return cmd
}

func newDocumentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				doc, err := svc.Document(ctx, id)
				if err != nil {
					return fmt.Errorf("documents show: %w", err)
				}
				return printJSON(cmd, doc)
			})
		},
	}
}

func newDocumentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document, its vectors, jobs and stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				if err := svc.Delete(ctx, id); err != nil {
					return fmt.Errorf("documents delete: %w", err)
				}
				logging.FromContext(ctx).Info("document deleted", slog.Int64("document_id", id))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted document %d\n", id)
				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print document and job counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				stats, err := svc.Stats(ctx)
				if err != nil {
					return fmt.Errorf("documents stats: %w", err)
				}
				return printJSON(cmd, stats)
			})
		},
	}
}
