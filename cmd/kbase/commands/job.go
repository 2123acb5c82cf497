package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/queue"
)

// NewJobCmd constructs the `kbase job` command, which prints an ingestion job.
func NewJobCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show an ingestion job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *kb.Service) error {
				get := svc.Job
				if wait {
					get = func(ctx context.Context, id string) (*queue.Job, error) { return waitForJob(ctx, svc, id) }
				}
				job, err := get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("job: %w", err)
				}
				return printJSON(cmd, job)
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job has succeeded or failed")
	return cmd
}
