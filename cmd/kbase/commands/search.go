package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
)

// NewSearchCmd constructs the `kbase search` command, which prints the chunks
// most similar to a query.
func NewSearchCmd() *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed documents",
		Long: `Embed the query and print the most similar indexed chunks, best first.

Examples:
  kbase search "refund policy"
  kbase search --top-k 10 --json "cluster upgrade steps"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := openRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer rt.Close()

			hits, err := rt.service.Search(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if asJSON {
				return printJSON(cmd, hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			out := cmd.OutOrStdout()
			for i, h := range hits {
				fmt.Fprintf(out, "%d. document %d, chunk %d (score %.4f)\n", i+1, h.DocumentID, h.ChunkIndex, h.Score)
				fmt.Fprintf(out, "   %s\n\n", preview(h.Text, 240))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default SEARCH_TOP_K or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// preview collapses whitespace in s and truncates it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
