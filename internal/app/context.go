package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/engine"
	"bookline/internal/lock"
	"bookline/internal/migrate"
	"bookline/internal/observability/metrics"
	"bookline/pkg/logging"
)

// Runtime bundles the collaborators shared by the CLI and the HTTP server.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Registry  *prometheus.Registry
	Logger    *logging.Logger

	redis *redis.Client
}

// LoadEnv reads <workspace>/.env when present. Variables already set in the
// process environment win.
func LoadEnv(workspace string) error {
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Open prepares the workspace database, applies migrations and builds the engine.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger := logging.New(cfg.Log.Level)
	version, err := migrate.Current(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("schema version: %w", err)
	}
	locker, client, err := NewLocker(ctx, cfg.Lock)
	if err != nil {
		conn.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Locker = locker
	e.Metrics = metrics.NewBookingMetrics(reg)

	logger.Debug("runtime ready", "workspace", workspace, "schema_version", version, "lock_backend", lockBackend(cfg.Lock))
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Registry:  reg,
		Logger:    logger,
		redis:     client,
	}, nil
}

// Close releases the database and, when used, the Redis client.
func (r *Runtime) Close() error {
	var errs []error
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

func lockBackend(lc config.LockConfig) string {
	if lc.Backend == "" {
		return "local"
	}
	return lc.Backend
}

// NewLocker builds the configured lock backend. The returned client is nil
// for the local backend.
func NewLocker(ctx context.Context, lc config.LockConfig) (lock.Locker, *redis.Client, error) {
	switch lockBackend(lc) {
	case "local":
		return lock.NewLocal(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     lc.Redis.Addr,
			Password: lc.Redis.Password,
			DB:       lc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis lock backend %s: %w", lc.Redis.Addr, err)
		}
		return lock.NewRedis(client, lc.TTLDuration(), lc.WaitDuration()), client, nil
	}
	return nil, nil, fmt.Errorf("unknown lock backend %q", lc.Backend)
}
