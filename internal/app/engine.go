// Package app wires the Practice Hub rules engine: storage backend, cache,
// event bus, notification bridge and the command and query handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/keystep/practice-hub/config"
	"github.com/keystep/practice-hub/internal/application/command"
	"github.com/keystep/practice-hub/internal/application/eventhandler"
	"github.com/keystep/practice-hub/internal/application/query"
	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/internal/infrastructure/external/crm"
	"github.com/keystep/practice-hub/internal/infrastructure/messaging"
	"github.com/keystep/practice-hub/internal/infrastructure/metrics"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/memory"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/postgres"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/redis"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Option customizes Engine construction.
type Option func(*options)

type options struct {
	logger   *logger.Logger
	clock    timeutil.Clock
	notifier gamification.Notifier
	store    *memory.Store
	syncBus  bool
}

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock replaces the system clock.
func WithClock(c timeutil.Clock) Option { return func(o *options) { o.clock = c } }

// WithNotifier replaces the CRM client.
func WithNotifier(n gamification.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithMemoryStore uses s as the memory backend instead of a fresh store.
func WithMemoryStore(s *memory.Store) Option { return func(o *options) { o.store = s } }

// WithSyncEvents runs event handlers inline with Publish.
func WithSyncEvents() Option { return func(o *options) { o.syncBus = true } }

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// repositories is the storage backend chosen by configuration.
type repositories struct {
	serializer  shared.UserSerializer
	stats       gamification.StatsRepository
	sessions    gamification.SessionRepository
	catalog     gamification.BadgeCatalog
	ledger      gamification.GemsLedger
	curriculum  curriculum.Repository
	progress    curriculum.ProgressRepository
	assignments curriculum.AssignmentRepository
	items       curriculum.PracticeItemRepository
}

// Engine exposes the rules engine operations.
type Engine struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	conn  *postgres.Connection
	cache gamification.StatsCache
	rc    *redis.Cache
	bus   *messaging.InMemoryEventBus

	recordSession  *command.RecordPracticeSessionHandler
	completeStep   *command.CompleteStepHandler
	purchaseShield *command.PurchaseShieldHandler
	userStats      *query.GetUserStatsHandler
	userBadges     *query.ListUserBadgesHandler
	assignment     *query.GetCurrentAssignmentHandler
}

// New builds an Engine from cfg. In memory mode the default badge catalog
// is installed when the catalog is empty.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.New(logger.Options{
			Level:       logger.ParseLevel(cfg.Observability.LogLevel),
			AddCaller:   true,
			Development: cfg.Observability.LogDevelopment,
		})
	}
	if o.clock == nil {
		o.clock = timeutil.SystemClock{}
	}

	e := &Engine{cfg: cfg, log: o.logger.With(logger.Component("engine"))}
	if cfg.Observability.MetricsEnabled {
		e.metrics = metrics.New()
	}

	repos, err := e.openStorage(ctx, o)
	if err != nil {
		return nil, err
	}

	if err := e.openCache(ctx); err != nil {
		e.closeStorage()
		return nil, err
	}

	busCfg := messaging.DefaultConfig()
	busCfg.AsyncMode = !o.syncBus
	busCfg.Logger = o.logger
	busCfg.Metrics = e.metrics
	e.bus = messaging.NewInMemoryEventBus(busCfg)

	notifier := o.notifier
	if notifier == nil {
		notifier = crm.NewClient(crmConfig(cfg.Notification), o.logger, e.metrics)
	}
	bridge := eventhandler.NewNotificationBridge(eventhandler.NotificationBridgeConfig{
		Notifier:  notifier,
		BadgeGate: e.gate(config.FeatureNotifyBadgeEarned),
		FocusGate: e.gate(config.FeatureNotifyFocusCompleted),
		Timeout:   cfg.Notification.Timeout * 4,
		Logger:    o.logger,
	})
	if err := bridge.Register(e.bus); err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("register notification bridge: %w", err)
	}

	e.buildHandlers(repos, o)
	e.log.Info("engine started",
		logger.String("storage", string(cfg.App.Storage)),
		logger.Bool("redis", e.rc != nil),
		logger.Bool("notifications", cfg.Notification.Enabled),
		logger.Any("features", enabledFeatures(cfg.Features)))
	return e, nil
}

func (e *Engine) openStorage(ctx context.Context, o *options) (*repositories, error) {
	switch e.cfg.App.Storage {
	case config.StorageMemory:
		store := o.store
		if store == nil {
			store = memory.NewStore()
		}
		catalog := memory.NewBadgeCatalog(store)
		if _, err := SeedBadgeCatalog(ctx, catalog); err != nil {
			return nil, err
		}
		return &repositories{
			serializer:  memory.NewUserSerializer(),
			stats:       memory.NewStatsRepository(store),
			sessions:    memory.NewSessionRepository(store),
			catalog:     catalog,
			ledger:      memory.NewGemsLedger(store),
			curriculum:  memory.NewCurriculumRepository(store),
			progress:    memory.NewProgressRepository(store),
			assignments: memory.NewAssignmentRepository(store),
			items:       memory.NewPracticeItemRepository(store),
		}, nil

	case config.StoragePostgres:
		conn, err := OpenPostgres(ctx, e.cfg.Database)
		if err != nil {
			return nil, err
		}
		e.conn = conn
		return &repositories{
			serializer:  postgres.NewUserSerializer(conn),
			stats:       postgres.NewStatsRepository(conn),
			sessions:    postgres.NewSessionRepository(conn),
			catalog:     postgres.NewBadgeCatalog(conn),
			ledger:      postgres.NewGemsLedger(conn),
			curriculum:  postgres.NewCurriculumRepository(conn),
			progress:    postgres.NewProgressRepository(conn),
			assignments: postgres.NewAssignmentRepository(conn),
			items:       postgres.NewPracticeItemRepository(conn),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage mode %q", e.cfg.App.Storage)
}

func (e *Engine) openCache(ctx context.Context) error {
	if !e.cfg.Redis.Enabled {
		e.cache = memory.NewCache()
		return nil
	}

	rc, err := redis.NewCache(ctx, redis.Options{
		Addr:      net.JoinHostPort(e.cfg.Redis.Host, strconv.Itoa(e.cfg.Redis.Port)),
		Password:  e.cfg.Redis.Password,
		DB:        e.cfg.Redis.DB,
		PoolSize:  e.cfg.Redis.PoolSize,
		Namespace: e.cfg.Redis.Namespace,
	})
	if err != nil {
		return fmt.Errorf("open redis cache: %w", err)
	}
	e.rc = rc
	e.cache = rc
	return nil
}

func (e *Engine) buildHandlers(repos *repositories, o *options) {
	cfg := e.cfg
	loc := cfg.App.Location
	if loc == nil {
		loc = time.UTC
	}

	deps := command.Deps{
		Serializer: repos.serializer,
		Stats:      repos.stats,
		Sessions:   repos.sessions,
		Catalog:    repos.catalog,
		Ledger:     repos.ledger,
		Cache:      e.cache,
		Publisher:  e.bus,
		Clock:      o.clock,
		NewID:      uuid.NewString,
		Logger:     o.logger,
		Metrics:    e.metrics,
	}

	rewarder := gamification.NewRewarder(repos.ledger, uuid.NewString)
	evaluator := gamification.NewEvaluator(repos.catalog, repos.sessions, rewarder, cfg.Gamification.BadgeRules(), loc, o.logger)

	e.recordSession = command.NewRecordPracticeSessionHandler(deps,
		gamification.NewStreakTracker(loc), evaluator, e.gate(config.FeatureGamificationBadges))

	e.completeStep = command.NewCompleteStepHandler(deps, command.CompleteStepHandlerConfig{
		Repository:  repos.curriculum,
		Progress:    repos.progress,
		Assignments: repos.assignments,
		Rewarder:    rewarder,
		Evaluator:   evaluator,
		Rewards:     cfg.Gamification.CurriculumRewards(),
		Badges:      e.gate(config.FeatureCurriculumBadges),
		Items:       repos.items,
		Placeholder: e.gate(config.FeatureCurriculumPlaceholder),
	})

	e.purchaseShield = command.NewPurchaseShieldHandler(deps, rewarder,
		command.ShieldConfig{Cost: cfg.Gamification.ShieldCost, MaxShields: cfg.Gamification.MaxShields},
		e.gate(config.FeatureGamificationShields))

	e.userStats = query.NewGetUserStatsHandler(repos.stats, e.cache, cfg.Redis.StatsTTL, o.clock, o.logger)
	e.userBadges = query.NewListUserBadgesHandler(repos.catalog, e.cache, cfg.Redis.StatsTTL, o.logger)
	e.assignment = query.NewGetCurrentAssignmentHandler(query.GetCurrentAssignmentConfig{
		Serializer:  repos.serializer,
		Repository:  repos.curriculum,
		Assignments: repos.assignments,
		Items:       repos.items,
		NewID:       uuid.NewString,
		Clock:       o.clock,
		Logger:      o.logger,
		Placeholder: e.gate(config.FeatureCurriculumPlaceholder),
	})
}

// gate turns a feature flag into a per-user predicate.
func (e *Engine) gate(feature string) func(string) bool {
	flags := e.cfg.Features
	if flags == nil {
		return nil
	}
	return func(userID string) bool { return flags.IsEnabled(feature, userID) }
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordPracticeSession stores a session and applies XP, streak and badges.
func (e *Engine) RecordPracticeSession(ctx context.Context, cmd command.RecordPracticeSessionCommand) (*command.RecordPracticeSessionResult, error) {
	return e.recordSession.Handle(ctx, cmd)
}

// MarkCurriculumStepComplete completes one step and advances the pointer.
// A step already completed yields a declined result, not an error.
func (e *Engine) MarkCurriculumStepComplete(ctx context.Context, userID string, stepID, focusID int64) (*command.CompleteStepResult, error) {
	return e.completeStep.Handle(ctx, command.CompleteStepCommand{
		UserID:  userID,
		StepID:  stepID,
		FocusID: focusID,
	})
}

// GetUserCurrentAssignment returns the user's curriculum pointer, creating
// it on first access.
func (e *Engine) GetUserCurrentAssignment(ctx context.Context, userID string) (*query.AssignmentDTO, error) {
	return e.assignment.Handle(ctx, userID)
}

// GetUserStats returns the stats of a user, defaults if none exist.
func (e *Engine) GetUserStats(ctx context.Context, userID string) (*query.UserStatsDTO, error) {
	return e.userStats.Handle(ctx, userID)
}

// PurchaseStreakShield spends gems for one streak shield.
func (e *Engine) PurchaseStreakShield(ctx context.Context, userID string) (*command.PurchaseShieldResult, error) {
	return e.purchaseShield.Handle(ctx, command.PurchaseShieldCommand{UserID: userID})
}

// ListUserBadges returns the badges a user earned, oldest first.
func (e *Engine) ListUserBadges(ctx context.Context, userID string) ([]query.EarnedBadgeDTO, error) {
	return e.userBadges.Handle(ctx, userID)
}

// Metrics returns the collectors, nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Drain waits until every published event was handled.
func (e *Engine) Drain() {
	if e.bus != nil {
		e.bus.Drain()
	}
}

// Close drains the event bus and releases connections.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.bus != nil {
		if err := e.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.rc != nil {
		if err := e.rc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closeStorage()
	e.log.Info("engine stopped")
	e.log.Sync()
	return errors.Join(errs...)
}

func (e *Engine) closeStorage() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// enabledFeatures lists the features switched on for at least some users.
func enabledFeatures(ff *config.FeatureFlags) []string {
	var on []string
	for _, name := range ff.Names() {
		if ff.IsEnabled(name, "") {
			on = append(on, name)
		}
	}
	return on
}

// OpenPostgres opens the pool described by cfg.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required in postgres mode")
	}
	conn, err := postgres.Open(ctx, cfg.URL, postgres.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.ConnMaxLifetime,
		MaxConnIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return conn, nil
}

// SeedBadgeCatalog installs the default badges when the catalog is empty
// and returns how many were installed.
func SeedBadgeCatalog(ctx context.Context, catalog gamification.BadgeCatalog) (int, error) {
	existing, err := catalog.ListBadges(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list badges: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	defs := gamification.DefaultBadgeCatalog()
	for _, def := range defs {
		if err := catalog.UpsertBadge(ctx, def); err != nil {
			return 0, fmt.Errorf("seed badge %s: %w", def.Key, err)
		}
	}
	return len(defs), nil
}

func crmConfig(c config.NotificationConfig) crm.Config {
	return crm.Config{
		Enabled:          c.Enabled,
		EventsURL:        c.EventsURL,
		WebhookURL:       c.WebhookURL,
		APIToken:         c.APIToken,
		Timeout:          c.Timeout,
		MaxAttempts:      c.MaxAttempts,
		InitialDelay:     c.InitialDelay,
		BreakerThreshold: c.BreakerThreshold,
		BreakerTimeout:   c.BreakerTimeout,
	}
}
