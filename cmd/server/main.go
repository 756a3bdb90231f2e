// Command server runs the HTTP/WS request surface: it loads
// config, bootstraps the schema, wires the task catalog, and serves the API
// router and a Prometheus metrics endpoint until a termination signal
// arrives. Flags override environment variables; the metrics listener runs
// independently of the main API listener so a metrics-server failure never
// takes down request handling.
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

	"github.com/malbeclabs/pipelinehub/api"
	"github.com/malbeclabs/pipelinehub/internal/catalog"
	"github.com/malbeclabs/pipelinehub/internal/config"
	"github.com/malbeclabs/pipelinehub/internal/engine"
	"github.com/malbeclabs/pipelinehub/internal/logger"
	"github.com/malbeclabs/pipelinehub/internal/metrics"
	"github.com/malbeclabs/pipelinehub/internal/notify"
	"github.com/malbeclabs/pipelinehub/internal/queue"
	"github.com/malbeclabs/pipelinehub/internal/schema"
	"github.com/malbeclabs/pipelinehub/internal/sourcetable"
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
	httpAddrFlag := flag.String("http-addr", "", "HTTP listen address (or set HTTP_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Prometheus metrics listen address (or set METRICS_ADDR env var)")
	filesDirFlag := flag.String("files-dir", "/var/lib/pipelinehub/files", "directory source-table files are uploaded into, keyed by file_id")
	flag.Parse()

	// godotenv does not override existing env vars, so process env and
	// explicit exports take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *httpAddrFlag != "" {
		cfg.HTTPAddr = *httpAddrFlag
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
		log.Info("server: received signal", "signal", sig.String())
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
	sourceTableSvc := sourcetable.New(st)
	notifyRegistry := notify.NewRegistry(ctx, notify.NewPGXListenerFactory(pool), log, coll)

	srv := api.New(st, eng, sourceTableSvc, notifyRegistry, log)

	var metricsServerErrCh = make(chan error, 1)
	go func() {
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			log.Error("failed to start metrics server listener", "error", err)
			metricsServerErrCh <- err
			return
		}
		log.Info("metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.Serve(listener, mux); err != nil && ctx.Err() == nil {
			log.Error("metrics server failed", "error", err)
			metricsServerErrCh <- err
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(cfg.NotifyChannel),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "address", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		log.Error("http server failed", "error", err)
		cancel()
	case err := <-metricsServerErrCh:
		log.Error("metrics server failed", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("server: shutdown complete")
	return nil
}
