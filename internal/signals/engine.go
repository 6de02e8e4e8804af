package signals

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hyperstats/internal/history"
	"hyperstats/internal/venue"
)

// Options tune signal derivation thresholds.
type Options struct {
	// TopK bounds the funding and open-interest rankings.
	TopK int
	// OISpikeThresholdPct flags open-interest moves at or above this
	// percent change over the window.
	OISpikeThresholdPct float64
	// VolumeSpikeRatio flags current volume at or above this multiple
	// of the trailing average.
	VolumeSpikeRatio float64
	// CascadeBucket is the fixed bucket width for cascade detection.
	CascadeBucket time.Duration
	// CascadeMinCount is the minimum liquidations per bucket for a
	// cascade period.
	CascadeMinCount int
	// DivergenceThresholdPct is the dominant-metric percent change
	// required to flag a divergence; the quiet metric must stay under
	// a tenth of it.
	DivergenceThresholdPct float64
	// MinLiquidationSize drops liquidations below this notional from
	// cascade detection. Zero keeps every event.
	MinLiquidationSize float64
	// Horizon bounds the lookback for window-based deltas.
	Horizon time.Duration
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.OISpikeThresholdPct <= 0 {
		o.OISpikeThresholdPct = 10
	}
	if o.VolumeSpikeRatio <= 0 {
		o.VolumeSpikeRatio = 2.0
	}
	if o.CascadeBucket <= 0 {
		o.CascadeBucket = 5 * time.Minute
	}
	if o.CascadeMinCount <= 0 {
		o.CascadeMinCount = 3
	}
	if o.DivergenceThresholdPct <= 0 {
		o.DivergenceThresholdPct = 50
	}
	if o.MinLiquidationSize < 0 {
		o.MinLiquidationSize = 0
	}
	if o.Horizon <= 0 {
		o.Horizon = history.DefaultHorizon
	}
	return o
}

// Engine derives signals from snapshots plus the window store.
type Engine struct {
	opts   Options
	window *history.Store
	logger zerolog.Logger
}

// NewEngine constructs a signal engine over the given window store.
func NewEngine(opts Options, window *history.Store, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:   opts.withDefaults(),
		window: window,
		logger: logger.With().Str("component", "signal_engine").Logger(),
	}
}

// Compute derives the full signal report for one refresh cycle. A
// failure on one asset never aborts the rest.
func (e *Engine) Compute(set venue.SnapshotSet, now time.Time) Report {
	report := Report{ComputedAt: now, Stale: set.Stale}

	report.Funding = e.fundingRanking(set, now)
	report.OIRanking, report.OISpikes = e.openInterest(set, now)
	report.VolStats, report.VolSpikes = e.volume(set, now)
	report.Cascades = e.cascades(now)
	report.Divergences = e.divergences(set, now)

	e.logger.Debug().
		Int("assets", len(set.Assets)).
		Int("oi_spikes", len(report.OISpikes)).
		Int("volume_spikes", len(report.VolSpikes)).
		Int("cascade_periods", len(report.Cascades.Periods)).
		Int("divergences", len(report.Divergences)).
		Msg("signals derived")
	return report
}

// AnnualizeFunding projects a per-interval funding rate over a year,
// in percent.
func AnnualizeFunding(rate float64) float64 {
	return rate * fundingPeriodsPerYear * 100
}

func (e *Engine) fundingRanking(set venue.SnapshotSet, now time.Time) []FundingEntry {
	entries := make([]FundingEntry, 0, len(set.Assets))
	for _, snap := range set.Assets {
		entry := FundingEntry{
			Asset:         snap.Asset,
			Rate:          snap.FundingRate,
			AnnualizedPct: AnnualizeFunding(snap.FundingRate),
			ChangePct:     e.window.ChangeOverWindow(snap.Asset, history.FieldFunding, e.opts.Horizon, now),
		}
		entry.Severity = fundingSeverity(entry.AnnualizedPct)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rate != entries[j].Rate {
			return entries[i].Rate > entries[j].Rate
		}
		return entries[i].Asset < entries[j].Asset
	})

	if len(entries) > e.opts.TopK {
		entries = entries[:e.opts.TopK]
	}
	return entries
}

// FundingForAsset computes the funding view for a single asset, used
// by the find-asset operation.
func (e *Engine) FundingForAsset(snap venue.AssetSnapshot, now time.Time) FundingEntry {
	entry := FundingEntry{
		Asset:         snap.Asset,
		Rate:          snap.FundingRate,
		AnnualizedPct: AnnualizeFunding(snap.FundingRate),
		ChangePct:     e.window.ChangeOverWindow(snap.Asset, history.FieldFunding, e.opts.Horizon, now),
	}
	entry.Severity = fundingSeverity(entry.AnnualizedPct)
	return entry
}

func (e *Engine) openInterest(set venue.SnapshotSet, now time.Time) ([]OIRankEntry, []OISpike) {
	ranking := make([]OIRankEntry, 0, len(set.Assets))
	spikes := make([]OISpike, 0)

	for _, snap := range set.Assets {
		changePct := e.window.ChangeOverWindow(snap.Asset, history.FieldOpenInterest, e.opts.Horizon, now)
		ranking = append(ranking, OIRankEntry{
			Asset:        snap.Asset,
			OpenInterest: snap.OpenInterest,
			ChangePct:    changePct,
		})

		if math.Abs(changePct) < e.opts.OISpikeThresholdPct {
			continue
		}
		direction := "increase"
		if changePct < 0 {
			direction = "decrease"
		}
		spikes = append(spikes, OISpike{
			Asset:        snap.Asset,
			OpenInterest: snap.OpenInterest,
			ChangePct:    changePct,
			Direction:    direction,
			Severity:     ratioSeverity(math.Abs(changePct), e.opts.OISpikeThresholdPct),
		})
	}

	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].OpenInterest != ranking[j].OpenInterest {
			return ranking[i].OpenInterest > ranking[j].OpenInterest
		}
		return ranking[i].Asset < ranking[j].Asset
	})
	if len(ranking) > e.opts.TopK {
		ranking = ranking[:e.opts.TopK]
	}

	sort.Slice(spikes, func(i, j int) bool {
		return math.Abs(spikes[i].ChangePct) > math.Abs(spikes[j].ChangePct)
	})

	return ranking, spikes
}

func (e *Engine) volume(set venue.SnapshotSet, now time.Time) (VolumeStats, []VolumeSpike) {
	stats := VolumeStats{}
	spikes := make([]VolumeSpike, 0)
	volumes := make([]AssetVolume, 0, len(set.Assets))

	for _, snap := range set.Assets {
		volumes = append(volumes, AssetVolume{Asset: snap.Asset, Volume: snap.DayVolume})
		stats.TotalVolume += snap.DayVolume
		if snap.DayVolume > stats.MaxVolume {
			stats.MaxVolume = snap.DayVolume
		}

		average := e.window.TrailingAverage(snap.Asset, history.FieldVolume, e.opts.Horizon, now)
		if average <= 0 {
			// Undefined ratio: no baseline means no spike, never an
			// infinite one.
			continue
		}
		ratio := snap.DayVolume / average
		if ratio < e.opts.VolumeSpikeRatio {
			continue
		}
		spikes = append(spikes, VolumeSpike{
			Asset:         snap.Asset,
			CurrentVolume: snap.DayVolume,
			AverageVolume: average,
			SpikeRatio:    ratio,
			Severity:      ratioSeverity(ratio, e.opts.VolumeSpikeRatio),
		})
	}

	if len(volumes) > 0 {
		stats.AverageVolume = stats.TotalVolume / float64(len(volumes))
	}

	sort.Slice(volumes, func(i, j int) bool {
		if volumes[i].Volume != volumes[j].Volume {
			return volumes[i].Volume > volumes[j].Volume
		}
		return volumes[i].Asset < volumes[j].Asset
	})
	if len(volumes) > e.opts.TopK {
		volumes = volumes[:e.opts.TopK]
	}
	stats.TopAssets = volumes

	sort.Slice(spikes, func(i, j int) bool { return spikes[i].SpikeRatio > spikes[j].SpikeRatio })

	return stats, spikes
}

func fundingSeverity(annualizedPct float64) Severity {
	switch {
	case math.Abs(annualizedPct) >= 100:
		return SeverityHigh
	case math.Abs(annualizedPct) >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ratioSeverity grades a magnitude against its detection threshold:
// twice past the bar is high, past the bar is medium.
func ratioSeverity(value, threshold float64) Severity {
	switch {
	case value >= threshold*2:
		return SeverityHigh
	case value >= threshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
