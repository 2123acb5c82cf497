// Package worker runs ingestion jobs pulled from the durable queue.
//
// A Pool starts Concurrency goroutines that each claim one job at a time,
// run it through the ingestion pipeline under a per-job deadline and record
// the outcome on the queue. The lease taken at claim time outlives the job
// deadline by LeaseGrace, so a job is only redelivered when its worker died.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/queue"
)

const (
	// DefaultJobTimeout bounds a single ingestion attempt.
	DefaultJobTimeout = 10 * time.Minute

	// DefaultLeaseGrace is added to the job timeout to form the queue lease.
	DefaultLeaseGrace = 30 * time.Second

	// DefaultPollInterval is how long an idle worker waits before polling again.
	DefaultPollInterval = time.Second

	// DefaultReapInterval is how often expired final-attempt jobs are swept.
	DefaultReapInterval = time.Minute
)

// Queue is the subset of the job queue the pool consumes.
type Queue interface {
	Dequeue(ctx context.Context, lease time.Duration) (*queue.Job, error)
	Complete(ctx context.Context, j *queue.Job, chunksWritten int) error
	Fail(ctx context.Context, j *queue.Job, msg string, retry bool) (queue.State, error)
	Reap(ctx context.Context) ([]queue.Job, error)
}

// Processor runs one ingestion attempt.
type Processor interface {
	Process(ctx context.Context, job ingestion.JobPayload) ingestion.Result
}

// DocumentStore records failures for jobs that died without reporting.
type DocumentStore interface {
	MarkFailed(ctx context.Context, id int64, msg string) error
}

// Config tunes a Pool. Zero values select the defaults.
type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	LeaseGrace   time.Duration
	PollInterval time.Duration
	ReapInterval time.Duration

	// Registerer receives the pool's metrics. A private registry is used
	// when nil.
	Registerer prometheus.Registerer
}

// Pool is a fixed-size set of ingestion workers.
type Pool struct {
	queue     Queue
	processor Processor
	docs      DocumentStore
	cfg       Config
	metrics   *poolMetrics
	name      string
}

// New returns a Pool. It does not start any goroutines; call Run.
func New(q Queue, p Processor, docs DocumentStore, cfg Config) (*Pool, error) {
	if q == nil || p == nil || docs == nil {
		return nil, fmt.Errorf("worker: queue, processor and document store are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.LeaseGrace <= 0 {
		cfg.LeaseGrace = DefaultLeaseGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}

	return &Pool{
		queue:     q,
		processor: p,
		docs:      docs,
		cfg:       cfg,
		metrics:   newPoolMetrics(cfg.Registerer),
		name:      uuid.NewString()[:8],
	}, nil
}

// Lease returns the queue lease taken for each job.
func (p *Pool) Lease() time.Duration { return p.cfg.JobTimeout + p.cfg.LeaseGrace }

// Run starts the workers and the reaper and blocks until ctx is cancelled.
// A job in flight at cancellation is abandoned; its lease expires and the
// job is redelivered. Run returns nil on a clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.Component(ctx, "worker")
	log.Info("worker pool starting",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("job_timeout", p.cfg.JobTimeout),
		slog.Duration("lease", p.Lease()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Concurrency {
		id := fmt.Sprintf("%s-%d", p.name, i)
		g.Go(func() error {
			p.loop(logging.WithLogger(gctx, log.With(slog.String("worker_id", id))))
			return nil
		})
	}
	g.Go(func() error {
		p.reapLoop(logging.WithLogger(gctx, log))
		return nil
	})

	err := g.Wait()
	log.Info("worker pool stopped")
	return err
}

// Drain runs jobs one at a time until the queue has none ready, then
// returns the number of attempts made.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		ran, err := p.runOne(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}

func (p *Pool) loop(ctx context.Context) {
	log := logging.FromContext(ctx)
	for {
		ran, err := p.runOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("worker iteration failed", slog.String("error", err.Error()))
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// runOne claims and runs at most one job. It reports whether a job was claimed.
func (p *Pool) runOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Dequeue(ctx, p.Lease())
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := logging.FromContext(ctx).With(
		slog.String("job_id", job.ID),
		slog.Int64("document_id", job.DocumentID),
		slog.Int("attempt", job.Attempts),
	)
	log.Info("job started")

	p.metrics.busyWorkers.Inc()
	defer p.metrics.busyWorkers.Dec()

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(logging.WithLogger(ctx, log), p.cfg.JobTimeout)
	res := p.processor.Process(jobCtx, ingestion.JobPayload{DocumentID: job.DocumentID, FilePath: job.FilePath})
	cancel()

	// Shutdown mid-job: leave the lease to expire so another worker retries.
	if ctx.Err() != nil {
		p.observe(outcomeAbandoned, start)
		log.Warn("job abandoned at shutdown")
		return true, nil
	}

	switch r := res.(type) {
	case ingestion.Success:
		if err := p.queue.Complete(ctx, job, r.ChunksWritten); err != nil {
			return true, p.leaseError(log, "complete", err)
		}
		p.observe(outcomeSucceeded, start)
		p.metrics.chunksIndexedTotal.Add(float64(r.ChunksWritten))
		if r.Empty() {
			p.metrics.emptyDocumentsTotal.Inc()
		}
		log.Info("job succeeded", slog.Int("chunks", r.ChunksWritten), slog.Duration("duration", time.Since(start)))

	case ingestion.Failure:
		state, err := p.queue.Fail(ctx, job, r.Message, r.Retryable())
		if err != nil {
			return true, p.leaseError(log, "fail", err)
		}
		p.metrics.failuresTotal.WithLabelValues(string(r.Kind)).Inc()
		outcome := outcomeFailed
		if state == queue.StateQueued {
			outcome = outcomeRetried
		}
		p.observe(outcome, start)
		log.Warn("job attempt failed",
			slog.String("kind", string(r.Kind)),
			slog.String("outcome", outcome),
			slog.Int("max_attempts", job.MaxAttempts),
		)

	default:
		return true, fmt.Errorf("worker: unexpected result type %T", res)
	}
	return true, nil
}

func (p *Pool) observe(outcome string, start time.Time) {
	p.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	p.metrics.jobDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// leaseError logs a lost lease and swallows it; any other error is returned.
func (p *Pool) leaseError(log *slog.Logger, op string, err error) error {
	if errors.Is(err, queue.ErrLeaseLost) {
		log.Warn("job lease lost before "+op+"; another worker owns it now")
		return nil
	}
	return fmt.Errorf("worker: %s job: %w", op, err)
}

func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		p.reap(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reap fails jobs whose final lease expired and marks their documents failed.
func (p *Pool) reap(ctx context.Context) {
	log := logging.FromContext(ctx)
	jobs, err := p.queue.Reap(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("reaping expired jobs failed", slog.String("error", err.Error()))
		}
		return
	}
	for _, j := range jobs {
		p.metrics.jobsReapedTotal.Inc()
		if err := p.docs.MarkFailed(ctx, j.DocumentID, "ingestion abandoned: "+j.LastError); err != nil {
			log.Error("marking reaped document failed",
				slog.Int64("document_id", j.DocumentID),
				slog.String("error", err.Error()),
			)
			continue
		}
		log.Warn("reaped expired job", slog.String("job_id", j.ID), slog.Int64("document_id", j.DocumentID))
	}
}
