package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"hyperstats/internal/alerting"
	"hyperstats/internal/alerts"
	"hyperstats/internal/config"
	"hyperstats/internal/history"
	"hyperstats/internal/metrics"
	"hyperstats/internal/scheduler"
	"hyperstats/internal/service"
	"hyperstats/internal/signals"
	"hyperstats/internal/storage"
	"hyperstats/internal/venue"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *venue.Client {
	return venue.NewClient(venue.ClientOptions{
		BaseURL:      a.Config.Venue.BaseURL,
		Timeout:      a.Config.Venue.RequestTimeout,
		UserAgent:    a.Config.Venue.UserAgent,
		HistoryChunk: a.Config.Venue.HistoryChunk,
		MaxInFlight:  a.Config.Venue.MaxInFlight,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
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

// Run executes the long-running telemetry and alerting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if a.Config.Metrics.Enabled {
		server := metrics.Serve(a.Config.Metrics.Addr)
		defer server.Close()
		a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics endpoint listening")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Refresh.Interval,
		StartupDelay: a.Config.Refresh.StartupDelay,
	}, a.Logger)

	client := a.newClient()
	stream := venue.NewStream(venue.StreamOptions{WSURL: a.Config.Venue.WSURL}, a.Logger)

	window := history.NewStore(a.Config.Refresh.Horizon)
	engine := signals.NewEngine(signals.Options{
		TopK:                   a.Config.Signals.TopK,
		OISpikeThresholdPct:    a.Config.Signals.OISpikeThresholdPct,
		VolumeSpikeRatio:       a.Config.Signals.VolumeSpikeRatio,
		CascadeBucket:          a.Config.Signals.CascadeBucket,
		CascadeMinCount:        a.Config.Signals.CascadeMinCount,
		DivergenceThresholdPct: a.Config.Signals.DivergenceThresholdPct,
		MinLiquidationSize:     a.Config.Signals.MinLiquidationSize,
		Horizon:                a.Config.Refresh.Horizon,
	}, window, a.Logger)

	registry := alerts.NewRegistry()
	evaluator := alerts.NewEvaluator(registry, window, alerts.EvaluatorOptions{
		Horizon:            a.Config.Refresh.Horizon,
		CascadeBucket:      a.Config.Signals.CascadeBucket,
		CascadeMinCount:    a.Config.Signals.CascadeMinCount,
		MinLiquidationSize: a.Config.Signals.MinLiquidationSize,
	}, a.Logger)

	dispatcher := alerting.NewDispatcher(a.newNotifier(), a.Config.Alerting.QueueDepth, a.Logger, func() {
		metrics.AlertsDroppedTotal.Inc()
	})

	var condStore storage.ConditionStore
	var eventStore storage.AlertEventStore
	if store != nil {
		condStore = store
		eventStore = store
	}

	svc := service.New(service.Options{
		Scheduler:      sched,
		Market:         client,
		Stream:         stream,
		Window:         window,
		Engine:         engine,
		Registry:       registry,
		Evaluator:      evaluator,
		Dispatcher:     dispatcher,
		ConditionStore: condStore,
		EventStore:     eventStore,
		AuditRetention: a.Config.Database.AuditRetention,
	}, a.Logger)

	a.Logger.Info().Msg("starting telemetry service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("telemetry service stopped")
	return nil
}

// ExportOptions hold parameters for exporting funding history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
