// Package config loads pipelinehub's environment-variable-driven
// configuration and constructs the shared Postgres connection pool.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds every environment input the core needs: the
// database URL, worker pool size, job-lease duration, and listener-channel
// naming. Session-secret is accepted here only to hand off to the external
// auth collaborator; the core never inspects it.
type Config struct {
	DatabaseURL       string
	Environment       string
	HTTPAddr          string
	MetricsAddr       string
	WorkerCount       int
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	NotifyChannel     string
	SessionSecret     string
	Verbose           bool
}

// Load reads Config from the environment, falling back to defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getenv("DATABASE_URL", "postgres://localhost:5432/pipelinehub?sslmode=disable"),
		Environment:       getenv("APP_ENV", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		MetricsAddr:       getenv("METRICS_ADDR", ":9090"),
		WorkerCount:       getenvInt("WORKER_COUNT", 4),
		LeaseDuration:     getenvDuration("JOB_LEASE_DURATION", 30*time.Second),
		HeartbeatInterval: getenvDuration("JOB_HEARTBEAT_INTERVAL", 10*time.Second),
		NotifyChannel:     getenv("NOTIFY_CHANNEL", "pipeline_run_task_changed"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		Verbose:           os.Getenv("VERBOSE") == "true",
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	return cfg, nil
}

// NewPool builds a pgxpool.Pool for cfg.DatabaseURL and pings it with a
// bounded timeout before returning, so a misconfigured database URL fails
// fast at startup rather than on the first request.
func NewPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.WorkerCount*2 + 4)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
