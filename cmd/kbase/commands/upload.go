package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/queue"
)

// waitPollInterval is how often `upload --wait` checks job state.
const waitPollInterval = 500 * time.Millisecond

// NewUploadCmd constructs the `kbase upload` command, which stores local files
// and queues them for ingestion.
func NewUploadCmd() *cobra.Command {
	var wait bool
	var timeout time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload documents for ingestion",
		Long: `Upload one or more PDF, DOCX or plain-text files.

Each file is copied into the upload directory (KBASE_UPLOAD_DIR), recorded
as a pending document and queued for ingestion. The command returns once
the jobs are queued; a running 'kbase serve' or 'kbase worker' indexes them.
Pass --wait to block until every job has finished.

Examples:
  kbase upload handbook.pdf
  kbase upload --wait notes/*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := openRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer rt.Close()

			results := make([]*kb.UploadResult, 0, len(args))
			for _, path := range args {
				res, err := uploadFile(ctx, rt.service, path)
				if err != nil {
					return fmt.Errorf("upload: %s: %w", path, err)
				}
				results = append(results, res)
				if !asJSON {
					fmt.Fprintf(cmd.OutOrStdout(), "queued %s as document %d (job %s)\n",
						res.Document.Filename, res.Document.ID, res.JobID)
				}
			}

			if wait {
				waitCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				var failed int
				for _, res := range results {
					job, err := waitForJob(waitCtx, rt.service, res.JobID)
					if err != nil {
						return fmt.Errorf("upload: waiting for job %s: %w", res.JobID, err)
					}
					if job.State == queue.StateFailed {
						failed++
					}
					if !asJSON {
						fmt.Fprintf(cmd.OutOrStdout(), "document %d: %s (%d chunks)\n",
							res.Document.ID, job.State, job.ChunksWritten)
					}
					if doc, err := rt.service.Document(ctx, res.Document.ID); err == nil {
						res.Document = doc
					}
				}
				if asJSON {
					if err := printJSON(cmd, results); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("upload: %d of %d document(s) failed ingestion", failed, len(results))
				}
				return nil
			}

			if asJSON {
				return printJSON(cmd, results)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until every ingestion job has finished")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// uploadFile hands one local file to the service.
func uploadFile(ctx context.Context, svc *kb.Service, path string) (*kb.UploadResult, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return svc.Upload(ctx, filepath.Base(path), f)
}

// waitForJob polls until the job reaches a terminal state or ctx ends.
func waitForJob(ctx context.Context, svc *kb.Service, id string) (*queue.Job, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		job, err := svc.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State == queue.StateSucceeded || job.State == queue.StateFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
