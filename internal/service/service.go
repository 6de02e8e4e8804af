package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hyperstats/internal/alerting"
	"hyperstats/internal/alerts"
	"hyperstats/internal/history"
	"hyperstats/internal/metrics"
	"hyperstats/internal/scheduler"
	"hyperstats/internal/signals"
	"hyperstats/internal/storage"
	"hyperstats/internal/venue"
)

// MarketData is the polling side of the market data client.
type MarketData interface {
	RefreshSnapshots(ctx context.Context) (venue.SnapshotSet, error)
	FundingHistoryBatch(ctx context.Context, coins []string, from, to time.Time) (map[string][]venue.FundingPoint, error)
}

// LiquidationStream is the push side of the market data client.
type LiquidationStream interface {
	Run(ctx context.Context, out chan<- venue.LiquidationEvent, onReconnect func()) error
}

// Service wires the refresh cycle: snapshot fetch, window writes,
// signal computation, alert evaluation, and async delivery. The
// WebSocket ingestion path runs concurrently and meets the cycle only
// at the window store.
type Service struct {
	scheduler  *scheduler.Scheduler
	market     MarketData
	stream     LiquidationStream
	window     *history.Store
	engine     *signals.Engine
	registry   *alerts.Registry
	evaluator  *alerts.Evaluator
	dispatcher *alerting.Dispatcher
	condStore  storage.ConditionStore
	eventStore storage.AlertEventStore
	retention  time.Duration
	logger     zerolog.Logger

	mu             sync.RWMutex
	latest         signals.Report
	latestSet      venue.SnapshotSet
	seeded         bool
	lastAuditPrune time.Time
}

// Options aggregate the service dependencies.
type Options struct {
	Scheduler  *scheduler.Scheduler
	Market     MarketData
	Stream     LiquidationStream
	Window     *history.Store
	Engine     *signals.Engine
	Registry   *alerts.Registry
	Evaluator  *alerts.Evaluator
	Dispatcher *alerting.Dispatcher
	// ConditionStore and EventStore are optional; nil runs the
	// registry purely in memory.
	ConditionStore storage.ConditionStore
	EventStore     storage.AlertEventStore
	// AuditRetention bounds the persisted alert audit log. Zero
	// keeps events forever.
	AuditRetention time.Duration
}

// New constructs the engine service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  opts.Scheduler,
		market:     opts.Market,
		stream:     opts.Stream,
		window:     opts.Window,
		engine:     opts.Engine,
		registry:   opts.Registry,
		evaluator:  opts.Evaluator,
		dispatcher: opts.Dispatcher,
		condStore:  opts.ConditionStore,
		eventStore: opts.EventStore,
		retention:  opts.AuditRetention,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled, driving the refresh cycle, the
// liquidation stream, and alert delivery concurrently.
func (s *Service) Run(ctx context.Context) error {
	if err := s.restoreConditions(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("could not restore persisted conditions; starting with empty registry")
	}

	group, gctx := errgroup.WithContext(ctx)

	events := make(chan venue.LiquidationEvent, 256)
	group.Go(func() error {
		return s.stream.Run(gctx, events, func() {
			metrics.StreamReconnectsTotal.Inc()
		})
	})
	group.Go(func() error {
		return s.consumeEvents(gctx, events)
	})
	group.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	group.Go(func() error {
		return s.scheduler.Run(gctx, s.ProcessCycle)
	})

	return group.Wait()
}

func (s *Service) consumeEvents(ctx context.Context, events <-chan venue.LiquidationEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-events:
			s.window.AppendEvent(event)
			metrics.LiquidationEventsTotal.Inc()
		}
	}
}

// ProcessCycle executes a single refresh: fetch, window writes, signal
// computation, evaluation, enqueue. It never returns a fatal error;
// the refresh loop only stops on shutdown.
func (s *Service) ProcessCycle(ctx context.Context, tick time.Time) error {
	now := time.Now().UTC()

	set, err := s.market.RefreshSnapshots(ctx)
	if err != nil {
		metrics.RefreshFailuresTotal.Inc()
		s.logger.Warn().Err(err).Bool("stale", set.Stale).Int("assets", len(set.Assets)).Msg("snapshot refresh failed, degrading to last known good")
	}
	if len(set.Assets) == 0 {
		s.logger.Warn().Msg("no snapshots available, skipping cycle")
		return nil
	}

	if !set.Stale {
		s.seedFundingHistory(ctx, &set, now)
		for _, snap := range set.Assets {
			s.window.AppendSnapshot(snap)
		}
	}

	report := s.engine.Compute(set, now)

	fired := s.evaluator.Evaluate(report, set, now)
	for _, alert := range fired {
		metrics.AlertsFiredTotal.WithLabelValues(string(alert.Kind)).Inc()
		s.persistFired(ctx, alert)
		s.dispatcher.Enqueue(alert)
	}

	s.mu.Lock()
	s.latest = report
	s.latestSet = set
	s.mu.Unlock()

	staleCount := 0
	for _, snap := range set.Assets {
		if snap.Stale {
			staleCount++
		}
	}
	metrics.RefreshCyclesTotal.Inc()
	metrics.TrackedAssets.Set(float64(len(set.Assets)))
	metrics.StaleAssets.Set(float64(staleCount))

	s.pruneAuditLog(ctx, now)

	s.logger.Info().
		Time("tick", tick).
		Int("assets", len(set.Assets)).
		Int("stale_assets", staleCount).
		Int("divergences", len(report.Divergences)).
		Int("cascade_periods", len(report.Cascades.Periods)).
		Int("alerts_fired", len(fired)).
		Msg("refresh cycle complete")
	return nil
}

// seedFundingHistory backfills the funding series from the venue's
// batch endpoint on the first live cycle, so window changes have a
// baseline before a full horizon of polling has elapsed. An asset
// whose history could not be fetched is degraded to stale for this
// cycle; the rest proceed.
func (s *Service) seedFundingHistory(ctx context.Context, set *venue.SnapshotSet, now time.Time) {
	s.mu.RLock()
	seeded := s.seeded
	s.mu.RUnlock()
	if seeded {
		return
	}

	coins := make([]string, 0, len(set.Assets))
	for name := range set.Assets {
		coins = append(coins, name)
	}

	historyByCoin, err := s.market.FundingHistoryBatch(ctx, coins, now.Add(-s.window.Horizon()), now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("funding history seed failed, continuing without baseline")
		return
	}

	for _, coin := range coins {
		series, ok := historyByCoin[coin]
		if !ok || len(series) == 0 {
			snap := set.Assets[coin]
			snap.Stale = true
			set.Assets[coin] = snap
			s.logger.Debug().Str("asset", coin).Msg("no funding history for asset, marked stale")
			continue
		}
		for _, point := range series {
			s.window.Append(history.Point{
				Asset:      point.Asset,
				Field:      history.FieldFunding,
				Value:      point.Rate,
				ObservedAt: point.ObservedAt,
			})
		}
	}

	s.mu.Lock()
	s.seeded = true
	s.mu.Unlock()
}

func (s *Service) persistFired(ctx context.Context, alert alerts.FiredAlert) {
	if s.eventStore != nil {
		if _, err := s.eventStore.InsertAlertEvent(ctx, toAlertEventRow(alert)); err != nil {
			s.logger.Error().Err(err).Int64("condition_id", alert.ConditionID).Msg("failed to persist alert event")
		}
	}
	if s.condStore != nil {
		if cond, ok := s.registry.Get(alert.ConditionID); ok {
			if err := s.condStore.UpsertCondition(ctx, toConditionRow(cond)); err != nil {
				s.logger.Error().Err(err).Int64("condition_id", alert.ConditionID).Msg("failed to persist condition state")
			}
		}
	}
}

// auditPruneInterval spaces out retention deletes so the audit log is
// not swept on every refresh cycle.
const auditPruneInterval = time.Hour

// pruneAuditLog deletes persisted alert events older than the
// configured retention. The first cycle after startup prunes
// immediately; later cycles at most once per auditPruneInterval.
func (s *Service) pruneAuditLog(ctx context.Context, now time.Time) {
	if s.eventStore == nil || s.retention <= 0 {
		return
	}

	s.mu.Lock()
	if !s.lastAuditPrune.IsZero() && now.Sub(s.lastAuditPrune) < auditPruneInterval {
		s.mu.Unlock()
		return
	}
	s.lastAuditPrune = now
	s.mu.Unlock()

	cutoff := now.Add(-s.retention)
	deleted, err := s.eventStore.DeleteAlertEventsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert audit log")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned alert audit log")
	}
}

func (s *Service) restoreConditions(ctx context.Context) error {
	if s.condStore == nil {
		return nil
	}
	rows, err := s.condStore.ListConditions(ctx)
	if err != nil {
		return err
	}
	restored := make([]alerts.Condition, 0, len(rows))
	for _, row := range rows {
		restored = append(restored, fromConditionRow(row))
	}
	s.registry.Restore(restored)
	if len(restored) > 0 {
		s.logger.Info().Int("conditions", len(restored)).Msg("restored persisted alert conditions")
	}
	return nil
}

// RegisterAlert validates and stores a subscriber condition, returning
// its id. Invalid parameters are rejected synchronously and never
// enter the registry.
func (s *Service) RegisterAlert(ctx context.Context, subscriberID string, kind alerts.Kind, asset string, cmp alerts.Comparison, threshold float64) (int64, error) {
	cond, err := s.registry.Register(subscriberID, kind, asset, cmp, threshold)
	if err != nil {
		return 0, err
	}
	if s.condStore != nil {
		if err := s.condStore.UpsertCondition(ctx, toConditionRow(cond)); err != nil {
			s.logger.Error().Err(err).Int64("condition_id", cond.ID).Msg("failed to persist new condition")
		}
	}
	return cond.ID, nil
}

// RemoveAlert deletes a condition; removing an unknown id is a no-op.
func (s *Service) RemoveAlert(ctx context.Context, id int64) bool {
	removed := s.registry.Remove(id)
	if removed && s.condStore != nil {
		if err := s.condStore.DeleteCondition(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("condition_id", id).Msg("failed to delete persisted condition")
		}
	}
	return removed
}

// ListAlerts returns one subscriber's registered conditions.
func (s *Service) ListAlerts(subscriberID string) []alerts.Condition {
	return s.registry.ListBySubscriber(subscriberID)
}

// LatestReport returns the signal report of the most recent cycle.
func (s *Service) LatestReport() signals.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// FindAsset returns the most recent snapshot for a symbol.
func (s *Service) FindAsset(symbol string) (venue.AssetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latestSet.Assets[strings.ToUpper(strings.TrimSpace(symbol))]
	return snap, ok
}

// FundingForAsset returns the funding view for a symbol, or false when
// the asset is unknown.
func (s *Service) FundingForAsset(symbol string) (signals.FundingEntry, bool) {
	snap, ok := s.FindAsset(symbol)
	if !ok {
		return signals.FundingEntry{}, false
	}
	return s.engine.FundingForAsset(snap, time.Now().UTC()), true
}

func toConditionRow(cond alerts.Condition) storage.ConditionRow {
	return storage.ConditionRow{
		ID:           cond.ID,
		SubscriberID: cond.SubscriberID,
		Kind:         string(cond.Kind),
		Asset:        cond.Asset,
		Comparison:   string(cond.Comparison),
		Threshold:    decimal.NewFromFloat(cond.Threshold),
		Armed:        cond.Armed,
		LastFiredAt:  cond.LastFiredAt,
		CreatedAt:    cond.CreatedAt,
	}
}

func fromConditionRow(row storage.ConditionRow) alerts.Condition {
	return alerts.Condition{
		ID:           row.ID,
		SubscriberID: row.SubscriberID,
		Kind:         alerts.Kind(row.Kind),
		Asset:        row.Asset,
		Comparison:   alerts.Comparison(row.Comparison),
		Threshold:    row.Threshold.InexactFloat64(),
		Armed:        row.Armed,
		LastFiredAt:  row.LastFiredAt,
		CreatedAt:    row.CreatedAt,
	}
}

func toAlertEventRow(alert alerts.FiredAlert) storage.AlertEventRow {
	return storage.AlertEventRow{
		ConditionID:   alert.ConditionID,
		SubscriberID:  alert.SubscriberID,
		Kind:          string(alert.Kind),
		Asset:         alert.Asset,
		ObservedValue: decimal.NewFromFloat(alert.ObservedValue),
		Threshold:     decimal.NewFromFloat(alert.Threshold),
		FiredAt:       alert.FiredAt,
	}
}
