package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bias-aggregator/internal/alerting"
	"bias-aggregator/internal/catalog"
	"bias-aggregator/internal/config"
	"bias-aggregator/internal/logging"
	"bias-aggregator/internal/metrics"
	"bias-aggregator/internal/publish"
	"bias-aggregator/internal/scheduler"
	"bias-aggregator/internal/service"
	"bias-aggregator/internal/storage"
	"bias-aggregator/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// backend is the pair of stores a command works against.
type backend struct {
	events    storage.EventStore
	snapshots storage.SnapshotStore
	pg        *storage.Store
	close     func()
}

func (b *backend) advisory() storage.AdvisoryLocker {
	if b.pg == nil {
		return nil
	}
	return b.pg
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openBackend opens Postgres when configured. Without a DSN it falls back to
// an in-process store unless the command needs durable state.
func (a *App) openBackend(ctx context.Context, requireDB bool, purpose string) (*backend, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		return &backend{events: store, snapshots: store, pg: store, close: closeStore}, nil
	}
	if requireDB {
		return nil, fmt.Errorf("database not configured; cannot %s", purpose)
	}
	a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, state is lost on exit")
	mem := storage.NewMemoryStore()
	return &backend{events: mem, snapshots: mem, close: func() {}}, nil
}

func (a *App) loadCatalog() (*catalog.Catalog, error) {
	path := a.Config.Catalog.Path
	if path == "" {
		return nil, errors.New("catalog.path not configured")
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Str("path", path).Int("rules", cat.Len()).Int("ranges", len(cat.Ranges())).Msg("rule catalog loaded")
	return cat, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newPublisher(ctx context.Context) (*publish.RedisPublisher, func()) {
	if a.Config.Redis.Addr == "" {
		return nil, func() {}
	}
	pub := publish.NewRedisPublisher(a.Config.Redis, a.Logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.Ping(pingCtx); err != nil {
		a.Logger.Warn().Err(err).Str("addr", a.Config.Redis.Addr).Msg("redis unreachable; publishing will retry on every snapshot")
	}
	return pub, func() { _ = pub.Close() }
}

func (a *App) newAggregator(b *backend, opts service.Options, deps service.Deps) *service.Aggregator {
	deps.Events = b.events
	deps.Snapshots = b.snapshots
	deps.Locker = service.NewAdvisoryPassLocker(service.NewProcessLocker(), b.advisory(), a.Config.Scheduler.AdvisoryLockKey)
	deps.Policy = alerting.NewPolicy(a.Config.Alerting.Directions)
	return service.NewAggregator(opts, deps, a.Logger)
}

func (a *App) serveMetrics(ctx context.Context, rec *metrics.Recorder) {
	if a.Config.Metrics.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, rec.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Run executes the long-running aggregation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The pass folds already-scored events; the catalog is loaded only so a
	// broken rule table stops startup.
	if _, err := a.loadCatalog(); err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}

	b, err := a.openBackend(ctx, false, "run")
	if err != nil {
		return err
	}
	defer b.close()

	rec := metrics.New()
	rec.SetBuildInfo(version.Current())
	a.serveMetrics(ctx, rec)

	pub, closePub := a.newPublisher(ctx)
	defer closePub()

	deps := service.Deps{
		Scheduler: scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			TickTimeout:  a.Config.Scheduler.TickTimeout,
		}, a.Logger),
		Recorder: rec,
	}
	if pub != nil {
		deps.Publisher = pub
	}
	if notifier := a.newNotifier(); notifier != nil {
		deps.Notifier = notifier
	}
	agg := a.newAggregator(b, service.OptionsFromConfig(a.Config.Aggregation), deps)

	a.Logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Dur("interval", a.Config.Scheduler.Interval).
		Dur("lookback", a.Config.Aggregation.Lookback).
		Msg("starting aggregation service")
	err = agg.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("aggregation service stopped")
	return nil
}

// Aggregate runs a single pass immediately and reports its result.
func (a *App) Aggregate(ctx context.Context) error {
	b, err := a.openBackend(ctx, true, "aggregate")
	if err != nil {
		return err
	}
	defer b.close()

	pub, closePub := a.newPublisher(ctx)
	defer closePub()

	var deps service.Deps
	if pub != nil {
		deps.Publisher = pub
	}
	if notifier := a.newNotifier(); notifier != nil {
		deps.Notifier = notifier
	}

	agg := a.newAggregator(b, service.OptionsFromConfig(a.Config.Aggregation), deps)
	result, err := agg.RunPass(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Fprintln(a.Out, "pass skipped: another pass holds the lock")
		return nil
	}
	fmt.Fprintf(a.Out, "fetched=%d processed=%d failed=%d remaining=%d duration=%s\n",
		result.Fetched, result.Processed, result.Failed, result.Remaining, result.Duration.Round(time.Millisecond))
	return nil
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot migrate")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	return nil
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Stats  bool
}

// IngestOptions describe one alert to score and enqueue.
type IngestOptions struct {
	Alert  service.Alert
	DryRun bool
}

// BackfillOptions configure a bulk replay of historical alerts.
type BackfillOptions struct {
	Path   string
	From   time.Time
	To     time.Time
	DryRun bool
}
