package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/auditlog"
	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/buildinfo"
	"github.com/otherjamesbrown/binaudit/pkg/db"
	"github.com/otherjamesbrown/binaudit/pkg/events"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
	"github.com/otherjamesbrown/binaudit/pkg/queues"
	"github.com/otherjamesbrown/binaudit/pkg/workers"
)

const workerServiceName = "binaudit-worker"

// WorkerCommandDeps holds the dependencies for the worker command.
type WorkerCommandDeps struct {
	LoadConfig     func() (*config.ServiceConfig, error)
	ConnectToRedis func(context.Context, *config.ServiceConfig) (*redis.Client, error)
	NewJudge       func(cfg *config.ServiceConfig, fixtures string) (judge.Judge, error)
	OpenStore      func(ctx context.Context, cfg *config.ServiceConfig) (*auditlog.Store, error)
}

// DefaultWorkerDeps returns the default dependencies for production use.
func DefaultWorkerDeps() *WorkerCommandDeps {
	return &WorkerCommandDeps{
		LoadConfig:     loadConfig,
		ConnectToRedis: connectToRedis,
		NewJudge:       newJudge,
		OpenStore:      openAuditLog,
	}
}

type workerOptions struct {
	count       int
	judgments   string
	patterns    string
	record      bool
	noEvents    bool
	metricsAddr string
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(deps *WorkerCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultWorkerDeps()
	}
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued audit requests",
		Long: `Run a pool of workers that take audit requests from the Redis queue,
audit them and publish the outcome.

For every request the worker:
  1. Audits the batch with the configured model endpoint
  2. Records the run in audit_runs (with --record)
  3. Publishes events.audit.batch_completed on Redis pub/sub

Timeouts and unavailable dependencies are retried with backoff; invalid
requests go straight to the dead letter queue and publish
events.audit.failed.

Response patterns come from the patterns file, which is reloaded when it
changes, or from PostgreSQL. Prometheus metrics are served on /metrics,
build information on /version and pool and database health on /healthz.

The worker stops on SIGINT or SIGTERM after in-flight audits finish.`,
		Example: `  binaudit worker
  binaudit worker --workers 8 --record
  binaudit worker --patterns ./patterns.yaml --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), deps, opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "workers", 0, "Number of workers (default from config)")
	cmd.Flags().StringVar(&opts.judgments, "judgments", "", "JSON fixtures file instead of the model endpoint")
	cmd.Flags().StringVar(&opts.patterns, "patterns", "", "Response patterns YAML file (overrides config)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record every run in the audit_runs table")
	cmd.Flags().BoolVar(&opts.noEvents, "no-events", false, "Do not publish audit events")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Metrics listen address (default from config, \"off\" to disable)")

	return cmd
}

func runWorker(ctx context.Context, deps *WorkerCommandDeps, opts *workerOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.LogJSON = cfg.LogJSON || !isTerminal(os.Stderr)
	log := newLogger(cfg).With(logging.F("service", workerServiceName))

	client, err := deps.ConnectToRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewAuditMetrics(registry)

	j, err := deps.NewJudge(cfg, opts.judgments)
	if err != nil {
		return err
	}

	src, err := openPatternSource(ctx, cfg, opts.patterns, log)
	if err != nil {
		return fmt.Errorf("opening response patterns: %w", err)
	}
	defer src.Close()
	resolver := src.Resolver(cfg, log)
	if src.file != nil && resolver != nil {
		go func() {
			if err := src.file.Watch(ctx, resolver.InvalidateAll); err != nil {
				log.Warn("Pattern file watch stopped", logging.Err(err))
			}
		}()
	}
	if src.pool != nil {
		if _, err := db.RegisterPoolStatsCollector(registry, src.pool, "binaudit", workerServiceName); err != nil {
			log.Warn("Failed to register pool metrics", logging.Err(err))
		}
	}

	orch := batch.New(j,
		batch.WithConcurrency(cfg.Concurrency),
		batch.WithPatterns(resolver),
		batch.WithLogger(log),
		batch.WithMetrics(metrics),
		batch.WithTracer(observability.NewTracer()))

	handlerOpts := []workers.HandlerOption{workers.WithHandlerLogger(log)}
	if !opts.noEvents {
		handlerOpts = append(handlerOpts, workers.WithPublisher(events.NewPublisher(client, log)))
	}
	if opts.record {
		store, err := deps.OpenStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer store.Close()
		handlerOpts = append(handlerOpts, workers.WithRecorder(store))
	}
	handler := workers.NewAuditHandler(orch, handlerOpts...)

	qc := queueConfig(cfg)
	queue := queues.NewRedisQueue(client, qc)
	defer queue.Close()

	pool := workers.NewPool(workerPoolConfig(cfg, qc, opts), queue, handler.Handle, log, metrics)

	addr := cfg.MetricsAddress
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	var srv *http.Server
	if addr != "" && addr != "off" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           workerMux(registry, pool, src.pool),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", logging.Err(err))
			}
		}()
	}

	log.Info("Starting worker",
		logging.F("version", buildinfo.String()),
		logging.F("queue", queue.Name()),
		logging.F("workers", pool.Config.Count),
		logging.F("patterns", src.Describe()),
		logging.F("metrics_addr", addr))
	pool.Start(ctx)

	<-ctx.Done()
	log.Info("Shutting down worker")
	pool.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown failed", logging.Err(err))
		}
	}

	stats := pool.Stats()
	log.Info("Worker stopped",
		logging.F("processed", stats.Processed),
		logging.F("failed", stats.Failed))
	return nil
}

// workerPoolConfig combines the worker defaults with configuration and flags.
func workerPoolConfig(cfg *config.ServiceConfig, qc queues.QueueConfig, opts *workerOptions) workers.WorkerConfig {
	wc := workers.DefaultWorkerConfig()
	wc.Count = cfg.Worker.Count
	if opts.count > 0 {
		wc.Count = opts.count
	}
	wc.QueueName = qc.Name
	wc.VisibilityTimeout = qc.VisibilityTimeout
	if cfg.Worker.PollInterval > 0 {
		wc.PollInterval = cfg.Worker.PollInterval
	}
	return wc
}

// workerHealth is the /healthz response.
type workerHealth struct {
	Pool     workers.PoolStats `json:"pool"`
	Database *db.HealthStatus  `json:"database,omitempty"`
}

// workerMux serves metrics, build info and health. dbPool is checked when
// patterns come from PostgreSQL.
func workerMux(registry *prometheus.Registry, pool *workers.Pool, dbPool *pgxpool.Pool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/version", buildinfo.Handler(workerServiceName))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := workerHealth{Pool: pool.Stats()}
		healthy := health.Pool.ActiveCount > 0
		if dbPool != nil {
			health.Database = db.Check(r.Context(), dbPool)
			healthy = healthy && health.Database.Healthy
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	return mux
}
