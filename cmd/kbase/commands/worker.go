package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbase-go/internal/logging"
)

// NewWorkerCmd constructs the `kbase worker` command, which runs ingestion
// workers against the shared job queue without the HTTP API.
func NewWorkerCmd() *cobra.Command {
	var concurrency int
	var drain bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run ingestion workers",
		Long: `Run ingestion workers that claim queued jobs, extract, chunk, embed and
index each document, and record the outcome.

Workers share the queue through the SQLite database (KBASE_DB), so any
number of worker processes can run next to 'kbase serve --workers 0'.
A job whose worker dies is redelivered once its lease expires.

With --drain the command processes every job that is ready and exits,
which is useful for batch runs and cron.

Examples:
  kbase worker --concurrency 4
  kbase worker --drain
  kbase worker --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := openRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer rt.Close()
			if rt.indexName == vectorBackendMemory {
				return fmt.Errorf("worker: the in-memory vector index cannot be shared with other processes; use 'kbase serve' with workers or VECTOR_BACKEND=qdrant")
			}
			rt.preflight(ctx)

			pool, err := rt.newPool(concurrency, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			if drain {
				n, err := pool.Drain(ctx)
				log.Info("queue drained", slog.Int("attempts", n))
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d job attempt(s)\n", n)
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return pool.Run(gctx) })
			if metricsAddr != "" {
				g.Go(func() error { return serveMetrics(gctx, log, metricsAddr) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Number of concurrent workers (default WORKER_CONCURRENCY or 2)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process all ready jobs one at a time, then exit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9102)")

	return cmd
}

// serveMetrics exposes the default Prometheus registry on addr until ctx ends.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("worker metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("worker: metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
