// Command worker runs the System-task worker pool: it claims
// leased jobs from the durable queue, executes the registered task body
// inside a transaction guarded by the task row's lock, and chains the next
// task in a run-all sequence. Follows the same flag-then-env-override
// startup shape as cmd/server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/config"
	"github.com/malbeclabs/pipelinehub/internal/engine"
	"github.com/malbeclabs/pipelinehub/internal/logger"
	"github.com/malbeclabs/pipelinehub/internal/metrics"
	"github.com/malbeclabs/pipelinehub/internal/queue"
	"github.com/malbeclabs/pipelinehub/internal/schema"
	"github.com/malbeclabs/pipelinehub/internal/store"
	"github.com/malbeclabs/pipelinehub/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	workerCountFlag := flag.Int("worker-count", 0, "number of worker goroutines (0 = use WORKER_COUNT env var / default)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Prometheus metrics listen address (or set METRICS_ADDR env var)")
	filesDirFlag := flag.String("files-dir", "/var/lib/pipelinehub/files", "directory source-table files are uploaded into, keyed by file_id")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *workerCountFlag > 0 {
		cfg.WorkerCount = *workerCountFlag
	}
	if *metricsAddrFlag != "" {
		cfg.MetricsAddr = *metricsAddrFlag
	}
	if *verboseFlag {
		cfg.Verbose = true
	}

	log := logger.NewForEnvironment(cfg.Environment, cfg.Verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("worker: received signal", "signal", sig.String())
		cancel()
	}()

	pool, err := config.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := schema.Bootstrap(ctx, log, pool, schema.Default()); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	reg := prometheus.NewRegistry()
	coll := metrics.New(reg)

	st := store.New(pool)
	cat := catalog.NewRegistry()
	tasks.Register(cat, tasks.Deps{
		Store:   st,
		Metrics: coll,
		FilePath: func(fileID, fileName string) string {
			return *filesDirFlag + "/" + fileID + "_" + fileName
		},
	})

	q := queue.New(pool)
	eng := engine.New(st, cat, q, log)

	go func() {
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			log.Error("failed to start metrics server listener", "error", err)
			return
		}
		log.Info("metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.Serve(listener, mux); err != nil && ctx.Err() == nil {
			log.Error("metrics server failed", "error", err)
		}
	}()

	reaped, err := st.Tasks.ReapAbandoned(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("reap abandoned tasks: %w", err)
	}
	if len(reaped) > 0 {
		log.Warn("worker: reaped abandoned tasks on startup", "pr_task_ids", reaped)
	}

	workerPool := queue.NewPool(q, st.Tasks, cat, eng, pool, nil, log, coll, queue.Config{
		WorkerCount:       cfg.WorkerCount,
		LeaseDuration:     cfg.LeaseDuration,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	log.Info("worker pool starting", "workers", cfg.WorkerCount)
	workerPool.Run(ctx)
	log.Info("worker: shutdown complete")
	return nil
}
