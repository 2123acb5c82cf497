package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/server"
)

// NewDoctorCmd constructs the `kbase doctor` command, which checks every
// configured dependency and reports which ones are unreachable.
func NewDoctorCmd() *cobra.Command {
	var skipLLM bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the database, embedder, vector index and chat model",
		Long: `Build every client from the current configuration and probe it once.

The command exits non-zero when any dependency fails, so it can gate
deployments. Use --skip-llm to avoid a chat model call on providers that
have no cheap health endpoint.

Examples:
  kbase doctor
  kbase doctor --config ./staging.yaml --skip-llm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := openRuntime(ctx, log, runtimeOptions{chatModel: !skipLLM})
			if err != nil {
				return fmt.Errorf("doctor: %w", err)
			}
			defer rt.Close()

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "DEPENDENCY\tSTATUS\tLATENCY\tDETAIL")
			var failed int
			for _, c := range server.Probe(ctx, rt.pingers()) {
				status := "ok"
				if !c.OK {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", c.Name, status, c.LatencyMS, c.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("doctor: %d dependency check(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "Do not build or probe the chat model")
	return cmd
}
