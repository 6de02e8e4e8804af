package alerts

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"hyperstats/internal/history"
	"hyperstats/internal/signals"
	"hyperstats/internal/venue"
)

// FiredAlert is the immutable record of one condition crossing, handed
// to the notification sink. It never references registry state.
type FiredAlert struct {
	ConditionID   int64
	SubscriberID  string
	Kind          Kind
	Asset         string
	Comparison    Comparison
	ObservedValue float64
	Threshold     float64
	FiredAt       time.Time
}

// EvaluatorOptions mirror the signal-engine thresholds the evaluator
// needs to derive per-condition monitored values.
type EvaluatorOptions struct {
	Horizon            time.Duration
	CascadeBucket      time.Duration
	CascadeMinCount    int
	MinLiquidationSize float64
}

func (o EvaluatorOptions) withDefaults() EvaluatorOptions {
	if o.Horizon <= 0 {
		o.Horizon = history.DefaultHorizon
	}
	if o.CascadeBucket <= 0 {
		o.CascadeBucket = 5 * time.Minute
	}
	if o.CascadeMinCount <= 0 {
		o.CascadeMinCount = 3
	}
	if o.MinLiquidationSize < 0 {
		o.MinLiquidationSize = 0
	}
	return o
}

// Evaluator runs the registry against fresh signals once per refresh
// cycle. Per-condition hysteresis guarantees at most one firing per
// threshold crossing: a fired condition stays disarmed until the
// monitored value returns to the opposite side.
type Evaluator struct {
	registry *Registry
	window   *history.Store
	opts     EvaluatorOptions
	logger   zerolog.Logger
}

// NewEvaluator wires the evaluator over the registry and window store.
func NewEvaluator(registry *Registry, window *history.Store, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		registry: registry,
		window:   window,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

// Evaluate walks the full registry against this cycle's report and
// returns the alerts that fired. Registry state (armed, lastFiredAt)
// is updated in the same pass. A condition whose monitored value is
// unknown this cycle is left untouched.
func (e *Evaluator) Evaluate(report signals.Report, set venue.SnapshotSet, now time.Time) []FiredAlert {
	fired := make([]FiredAlert, 0)

	e.registry.mu.Lock()
	defer e.registry.mu.Unlock()

	for _, cond := range e.registry.conditions {
		value, known := e.monitoredValue(cond, report, set, now)
		if !known {
			continue
		}

		crossed := compare(cond.Comparison, value, cond.Threshold)
		switch {
		case cond.Armed && crossed:
			firedAt := now
			cond.Armed = false
			cond.LastFiredAt = &firedAt
			fired = append(fired, FiredAlert{
				ConditionID:   cond.ID,
				SubscriberID:  cond.SubscriberID,
				Kind:          cond.Kind,
				Asset:         cond.Asset,
				Comparison:    cond.Comparison,
				ObservedValue: value,
				Threshold:     cond.Threshold,
				FiredAt:       firedAt,
			})
		case !cond.Armed && !crossed:
			// Value returned past the threshold: re-arm.
			cond.Armed = true
		}
	}

	return fired
}

// monitoredValue maps a condition to the scalar it watches. The second
// return is false when the value cannot be determined this cycle.
func (e *Evaluator) monitoredValue(cond *Condition, report signals.Report, set venue.SnapshotSet, now time.Time) (float64, bool) {
	switch cond.Kind {
	case KindFunding:
		snap, ok := set.Assets[cond.Asset]
		if !ok {
			return 0, false
		}
		return snap.FundingRate, true

	case KindOpenInterest:
		if _, ok := set.Assets[cond.Asset]; !ok {
			return 0, false
		}
		return e.window.ChangeOverWindow(cond.Asset, history.FieldOpenInterest, e.opts.Horizon, now), true

	case KindVolume:
		snap, ok := set.Assets[cond.Asset]
		if !ok {
			return 0, false
		}
		average := e.window.TrailingAverage(cond.Asset, history.FieldVolume, e.opts.Horizon, now)
		if average <= 0 {
			// Ratio undefined without a baseline; the condition is
			// left untouched rather than compared against zero.
			return 0, false
		}
		return snap.DayVolume / average, true

	case KindLiquidation:
		if cond.Asset == "" {
			return float64(report.Cascades.LargestCascade), true
		}
		events := e.window.EventsSinceWithMinSize(now.Add(-e.opts.Horizon), e.opts.MinLiquidationSize)
		filtered := events[:0]
		for _, event := range events {
			if event.Asset == cond.Asset {
				filtered = append(filtered, event)
			}
		}
		cascade := signals.BucketCascades(filtered, e.opts.CascadeBucket, e.opts.CascadeMinCount)
		return float64(cascade.LargestCascade), true

	case KindDivergence:
		for _, div := range report.Divergences {
			if div.Asset != cond.Asset {
				continue
			}
			dominant := math.Abs(div.VolumeChangePct)
			if div.Type == signals.DivergencePriceSpikeLowVol {
				dominant = math.Abs(div.PriceChangePct)
			}
			return dominant, true
		}
		// No divergence present reads as zero magnitude.
		return 0, true

	default:
		e.logger.Error().Int64("condition_id", cond.ID).Str("kind", string(cond.Kind)).Msg("condition with unknown kind in registry")
		return 0, false
	}
}

func compare(cmp Comparison, value, threshold float64) bool {
	switch cmp {
	case CompareAbove:
		return value > threshold
	case CompareBelow:
		return value < threshold
	case CompareCrosses:
		return math.Abs(value) >= threshold
	default:
		return false
	}
}
