package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbase-go/internal/config"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/server"
	"github.com/54b3r/kbase-go/internal/tracing"
	"github.com/54b3r/kbase-go/internal/version"
	"github.com/54b3r/kbase-go/internal/worker"
)

// NewServeCmd constructs the `kbase serve` command, which starts the HTTP
// API and, unless --workers 0 is given, ingestion workers in the same process.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbase HTTP API and ingestion workers",
		Long: `Start the kbase HTTP API.

The server accepts document uploads, answers search and ask requests, and
exposes /api/health, /api/ready and /metrics. By default it also runs
WORKER_CONCURRENCY ingestion workers in-process; pass --workers 0 to run
workers separately with 'kbase worker'.

Examples:
  kbase serve
  kbase serve --port 9090 --workers 4
  VECTOR_BACKEND=memory EMBEDDING_PROVIDER=hash kbase serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			log.Info("starting kbase", slog.String("version", version.String()))

			if !cmd.Flags().Changed("host") {
				host = config.Env("KBASE_HOST", "127.0.0.1")
			}
			if !cmd.Flags().Changed("port") {
				port = config.EnvInt("KBASE_PORT", 8080)
			}

			// Setup Langfuse tracing, opt-in and a no-op if keys are absent.
			flush, traced := tracing.Install()
			defer flush()
			log.Info("langfuse tracing", slog.Bool("enabled", traced))

			rt, err := openRuntime(ctx, log, runtimeOptions{chatModel: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()
			rt.preflight(ctx)

			srv, err := server.New(rt.service, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        rt.pingers(),
				MaxUploadBytes: rt.files.MaxBytes(),
				RateLimit:      float64(config.EnvFloat32("KBASE_RATE_LIMIT", 0)),
				RateBurst:      config.EnvInt("KBASE_RATE_BURST", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			var pool *worker.Pool
			if workers != 0 {
				if pool, err = rt.newPool(workers, prometheus.DefaultRegisterer); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			} else if rt.indexName == vectorBackendMemory {
				log.Warn("in-memory vector index with no in-process workers; uploads will never be indexed")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if pool != nil {
				g.Go(func() error { return pool.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env KBASE_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env KBASE_PORT)")
	cmd.Flags().IntVarP(&workers, "workers", "w", -1, "In-process ingestion workers; -1 uses WORKER_CONCURRENCY, 0 disables")

	return cmd
}
