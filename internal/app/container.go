package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/voice-batch-engine/internal/config"
	"github.com/acme/voice-batch-engine/internal/dialer"
	dialermock "github.com/acme/voice-batch-engine/internal/dialer/mock"
	"github.com/acme/voice-batch-engine/internal/engine"
	"github.com/acme/voice-batch-engine/internal/infra/db"
	"github.com/acme/voice-batch-engine/internal/infra/redis"
	"github.com/acme/voice-batch-engine/internal/limits"
	"github.com/acme/voice-batch-engine/internal/queue"
	pgrepo "github.com/acme/voice-batch-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-batch-engine/internal/repository/scylla"
	"github.com/acme/voice-batch-engine/internal/schedule"
	"github.com/acme/voice-batch-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Postgres,
// Scylla, Redis and Kafka are each optional; a disabled section leaves the
// corresponding field nil and the engine runs fully in memory.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once      sync.Once
		err       error
		manager   *engine.Manager
		scheduler *schedule.Scheduler
		publisher *queue.EventPublisher
		results   *scyllarepo.ResultStore
	}
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}

	if cfg.Postgres.Enabled {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("bootstrap postgres: %w", err)
		}
		container.Postgres = pg
	}

	if cfg.Scylla.Enabled {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			return nil, fmt.Errorf("bootstrap scylla: %w", err)
		}
		container.Scylla = scylla
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		container.Redis = redisClient
	}

	if cfg.Kafka.Enabled {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		container.Kafka = kafka
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		d, err := c.buildDialer()
		if err != nil {
			c.components.err = err
			return
		}

		opts := engine.Options{
			Dialer:             d,
			Logger:             c.Logger,
			DefaultConcurrency: c.Config.Engine.DefaultConcurrency,
			DefaultCallTimeout: c.Config.Engine.MaxCallDuration,
			AccountConcurrency: c.Config.Throttle.AccountConcurrency,
		}

		if c.Kafka != nil {
			c.components.publisher = queue.NewEventPublisher(
				c.Kafka,
				c.Config.Kafka.CallEventsTopic,
				c.Config.Kafka.CampaignEventsTopic,
				c.Logger,
			)
			opts.Callbacks = c.components.publisher
		}

		if c.Postgres != nil {
			opts.Store = pgrepo.NewCampaignStore(c.Postgres.DB())
		}

		if c.Scylla != nil {
			c.components.results = scyllarepo.NewResultStore(c.Scylla.Session())
			opts.Results = c.components.results
		}

		if c.Redis != nil && c.Config.Throttle.AccountConcurrency > 0 {
			opts.Throttle = limits.NewThrottle(
				c.Redis.Inner(),
				c.Config.Throttle.AccountConcurrency,
				c.Config.Throttle.SlotTTL,
			)
		}

		manager, err := engine.NewManager(opts)
		if err != nil {
			c.components.err = fmt.Errorf("build campaign manager: %w", err)
			return
		}

		var scheduleStore schedule.Store
		if c.Postgres != nil {
			scheduleStore = pgrepo.NewScheduleStore(c.Postgres.DB())
		}

		c.components.manager = manager
		c.components.scheduler = schedule.NewScheduler(
			manager,
			scheduleStore,
			c.Logger,
			c.Config.Scheduler.TickInterval,
		)
	})
}

// buildDialer resolves the configured provider. The simulated dialer is only
// wired when the configuration names it explicitly; an unset provider is a
// misconfiguration, never a silent fallback to fabricated outcomes.
func (c *Container) buildDialer() (dialer.Dialer, error) {
	switch c.Config.Dialer.ProviderName {
	case "mock":
		return dialermock.NewDialer(c.Config.Dialer.MockDelay), nil
	case "":
		return nil, errors.New("dialer provider is required; set dialer.provider_name")
	default:
		return nil, fmt.Errorf("unknown dialer provider %q", c.Config.Dialer.ProviderName)
	}
}

// Engine exposes the initialized campaign manager.
func (c *Container) Engine() (*engine.Manager, error) {
	c.initComponents()
	return c.components.manager, c.components.err
}

// Scheduler exposes the initialized batch scheduler.
func (c *Container) Scheduler() (*schedule.Scheduler, error) {
	c.initComponents()
	return c.components.scheduler, c.components.err
}

// Results exposes the Scylla-backed result store, or nil when Scylla is
// disabled.
func (c *Container) Results() *scyllarepo.ResultStore {
	c.initComponents()
	return c.components.results
}

// EnsureTopics ensures the configured Kafka event topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	topics := []string{c.Config.Kafka.CallEventsTopic, c.Config.Kafka.CampaignEventsTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if c.components.scheduler != nil {
		c.components.scheduler.Stop()
	}
	if c.components.manager != nil {
		c.components.manager.Close()
	}
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
