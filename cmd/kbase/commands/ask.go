package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/tracing"
)

// NewAskCmd constructs the `kbase ask` command, which answers a question from
// the indexed documents and lists the sources used.
func NewAskCmd() *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question answered from your documents",
		Long: `Retrieve the chunks most relevant to the question and ask the configured
chat model (MODEL_PROVIDER) to answer using only that context. The model
says it does not know when the documents do not contain the answer.

Examples:
  kbase ask "what is the refund window?"
  kbase ask --top-k 5 "how do I rotate the cluster certificates?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, traced := tracing.Install()
			defer flush()
			log.Debug("langfuse tracing", slog.Bool("enabled", traced))

			rt, err := openRuntime(ctx, log, runtimeOptions{chatModel: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			res, err := rt.service.Ask(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if asJSON {
				return printJSON(cmd, res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if len(res.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, s := range res.Sources {
					fmt.Fprintf(out, "  - %s (document %d, chunk %d, score %.4f)\n", s.Document, s.DocumentID, s.ChunkIndex, s.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of context chunks (default ASK_TOP_K or 3)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer and sources as JSON")

	return cmd
}
