package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-nurture/internal/autotag"
	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// Runtime is the wired engine shared by the API and the workers.
type Runtime struct {
	Engine    *engine.Engine
	Scheduler *drip.Scheduler
	Flows     flow.Repository
	Rules     autotag.RuleStore
	AutoTag   *autotag.Service
	// Calendars is nil when Redis is unavailable; every org then uses Fallback.
	Calendars *businesshours.Store
	Fallback  businesshours.WeeklyHours
	Metrics   *metrics.EngineMetrics
	Pool      *pgxpool.Pool
	Redis     *redis.Client
}

// BuildRuntime wires storage, locking, scheduling and tagging from config.
// Postgres backs everything when DATABASE_URL is set and the memory store is
// not forced; otherwise state lives in process.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	fallback, err := DefaultCalendar(cfg)
	if err != nil {
		return nil, err
	}
	mode, err := drip.ParseAnchorMode(cfg.DripAnchorMode)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	pool, err := BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Fallback: fallback,
		Pool:     pool,
		Redis:    BuildRedisClient(ctx, cfg, logger, true),
	}
	if reg != nil {
		rt.Metrics = metrics.NewEngineMetrics(reg)
	}

	var calendars drip.CalendarSource = businesshours.StaticSource(fallback)
	if rt.Redis != nil {
		rt.Calendars = businesshours.NewStore(rt.Redis, fallback)
		calendars = rt.Calendars
	}

	var (
		store     engine.Store
		dripQueue drip.Queue
		tags      autotag.TagStore
	)
	if pool != nil {
		dripQueue = drip.NewPostgresQueue(pool)
		store = engine.NewPostgresStore(pool)
		rt.Flows = flow.NewPostgresRepository(pool)
		rt.Rules = autotag.NewPostgresRuleStore(pool)
		tags = autotag.NewPostgresTagStore(pool)
		logger.Info("using postgres engine store")
	} else {
		mem := drip.NewMemoryQueue()
		dripQueue = mem
		store = engine.NewMemoryStore(mem)
		rt.Flows = flow.NewInMemoryRepository()
		rt.Rules = autotag.NewMemoryRuleStore()
		tags = autotag.NewMemoryTagStore()
		logger.Warn("using in-memory engine store; state is lost on restart")
	}
	if cfg.FlowCacheTTL > 0 {
		rt.Flows = flow.NewCachedRepository(rt.Flows, cfg.FlowCacheTTL)
	}

	var locker engine.Locker = engine.NewLocalLocker()
	if rt.Redis != nil && pool != nil {
		locker = engine.NewRedisLocker(rt.Redis, cfg.SessionLockTTL)
	}

	rt.Scheduler = drip.NewScheduler(dripQueue, calendars, logger).
		WithAnchorMode(mode).
		WithMetrics(rt.Metrics)

	opts := []engine.Option{engine.WithLocker(locker), engine.WithMetrics(rt.Metrics)}
	if n := BuildNotifier(ctx, cfg, logger); n != nil {
		opts = append(opts, engine.WithNotifier(n))
	}
	rt.Engine = engine.New(store, rt.Flows, rt.Scheduler, logger, opts...)
	rt.AutoTag = autotag.NewService(rt.Rules, tags, logger).
		WithLocker(locker).
		WithMetrics(rt.Metrics)

	logger.Info("engine runtime ready", "anchor_mode", mode.String(), "redis", rt.Redis != nil)
	return rt, nil
}

// Ready pings the backing stores for health checks.
func (rt *Runtime) Ready(r *http.Request) error {
	if rt.Pool != nil {
		if err := rt.Pool.Ping(r.Context()); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(r.Context()).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases database and Redis connections.
func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
}
