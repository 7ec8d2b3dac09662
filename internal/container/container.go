// Package container wires configuration, storage, collaborators and the
// experiment registry together.
package container

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"callsplit/adapters/carrier/sim"
	"callsplit/adapters/memory"
	"callsplit/adapters/messaging/logmsg"
	"callsplit/adapters/postgres"
	"callsplit/adapters/spamsource/heuristic"
	"callsplit/app"
	"callsplit/domain/core"
	"callsplit/domain/metrics"
	"callsplit/domain/quality"
	"callsplit/internal/config"
	"callsplit/internal/ratelimit"
	"callsplit/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB *sqlx.DB

	// Repositories (data access layer)
	CallLogRepo    ports.CallLogRepository
	ExperimentRepo ports.ExperimentRepository

	// Collaborators
	Carrier    ports.VoiceCarrier
	Messenger  ports.Messenger
	SpamSource quality.SpamSource
	Limiter    *ratelimit.MultiLevel
	Metrics    *metrics.Service

	Registry *app.Registry
}

// New creates the dependency container. When DATABASE_URL is set the
// repositories are PostgreSQL-backed, otherwise everything runs in memory.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Container{Config: cfg}
	clock := core.SystemClock()

	if cfg.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		c.DB = db
		c.CallLogRepo = postgres.NewCallLogRepository(db)
		c.ExperimentRepo = postgres.NewExperimentRepository(db)
		log.Printf("[Container] using PostgreSQL repositories")
	} else {
		c.CallLogRepo = memory.NewCallLogRepository()
		c.ExperimentRepo = memory.NewExperimentRepository()
		log.Printf("[Container] no DATABASE_URL set, using in-memory repositories")
	}

	c.Carrier = sim.New(time.Now().UnixNano(), sim.DefaultProfile())
	c.Messenger = logmsg.New()
	c.SpamSource = heuristic.NewStatic(nil)

	rl := cfg.RateLimit
	c.Limiter = ratelimit.NewMultiLevel(
		ratelimit.Config{BurstCapacity: rl.GlobalBurst, RefillRate: rl.GlobalRate, DownshiftFactor: rl.DownshiftFactor},
		ratelimit.Config{BurstCapacity: rl.CLIBurst, RefillRate: rl.CLIRate, DownshiftFactor: rl.DownshiftFactor},
		ratelimit.Config{BurstCapacity: rl.TestBurst, RefillRate: rl.TestRate, DownshiftFactor: rl.DownshiftFactor},
		clock,
	)
	c.Metrics = metrics.NewService(clock)

	c.Registry = app.NewRegistry(app.Deps{
		Carrier:     c.Carrier,
		Messenger:   c.Messenger,
		SpamSource:  c.SpamSource,
		CallLogs:    c.CallLogRepo,
		Experiments: c.ExperimentRepo,
		Metrics:     c.Metrics,
		Limiter:     c.Limiter,
		Clock:       clock,
	}, app.Options{
		TickInterval: cfg.Runner.TickInterval,
		BatchSize:    cfg.Runner.BatchSize,
		MaxInFlight:  int64(cfg.Runner.MaxInFlight),
	})

	return c, nil
}

// Close releases infrastructure resources.
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
