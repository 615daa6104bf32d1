package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"bookline/internal/config"
	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/lock"
	"bookline/internal/observability/metrics"
	"bookline/internal/repo"
	"bookline/pkg/logging"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Locker  lock.Locker
	Metrics *metrics.BookingMetrics
	Logger  *logging.Logger
	Tracer  trace.Tracer
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Locker: lock.NewLocal(),
		Logger: logging.Default(),
		Tracer: otel.Tracer("bookline/engine"),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *logging.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func (e Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer("bookline/engine")
}

func (e Engine) location() *time.Location {
	loc, err := e.Config.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func (e Engine) lock(ctx context.Context, keys ...string) (func(), error) {
	if e.Locker == nil {
		return func() {}, nil
	}
	return e.Locker.Lock(ctx, keys...)
}

func ledgerKey(professionalID, clientID string) string {
	return "ledger:" + professionalID + ":" + clientID
}

func slotKey(professionalID, date, clock string) string {
	return "slot:" + professionalID + ":" + date + ":" + clock
}

func proposalKey(id string) string {
	return "proposal:" + id
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(field, "is required")
	}
	return nil
}

func requireActor(actor domain.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return invalid("actor", "id is required")
	}
	if _, err := domain.ParseRole(string(actor.Role)); err != nil {
		return invalid("actor", "%v", err)
	}
	return nil
}

// ListEvents returns audit events newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
