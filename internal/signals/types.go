// Package signals derives statistical signals from the latest snapshot
// set and the historical window store. All computations are pure given
// their inputs and are recomputed fresh every refresh cycle.
package signals

import "time"

// Severity classifies signal magnitude.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Funding settlement cadence of the venue: hourly settlement, so the
// per-interval rate annualizes across every hour of the year.
const (
	fundingIntervalHours  = 1
	fundingPeriodsPerYear = (24 / fundingIntervalHours) * 365
)

// FundingEntry is one row of the funding ranking.
type FundingEntry struct {
	Asset string
	// Rate is the current per-interval funding rate.
	Rate float64
	// AnnualizedPct is Rate projected over a year, in percent.
	AnnualizedPct float64
	// ChangePct is the percent change of the rate over the window.
	ChangePct float64
	Severity  Severity
}

// OISpike flags a significant open-interest move over the window.
type OISpike struct {
	Asset        string
	OpenInterest float64
	ChangePct    float64
	Direction    string // "increase" or "decrease"
	Severity     Severity
}

// OIRankEntry is one row of the open-interest ranking.
type OIRankEntry struct {
	Asset        string
	OpenInterest float64
	ChangePct    float64
}

// VolumeSpike flags current volume well above its trailing average.
type VolumeSpike struct {
	Asset         string
	CurrentVolume float64
	AverageVolume float64
	SpikeRatio    float64
	Severity      Severity
}

// VolumeStats summarises the per-cycle volume distribution.
type VolumeStats struct {
	TotalVolume   float64
	AverageVolume float64
	MaxVolume     float64
	TopAssets     []AssetVolume
}

// AssetVolume pairs an asset with its day volume.
type AssetVolume struct {
	Asset  string
	Volume float64
}

// CascadePeriod is one time bucket with enough liquidations to count
// as a cascade.
type CascadePeriod struct {
	Start     time.Time
	Count     int
	TotalSize float64
}

// CascadeReport aggregates liquidation cascade detection over the scan
// window.
type CascadeReport struct {
	TotalEvents    int
	TotalSize      float64
	Periods        []CascadePeriod
	LargestCascade int
	Severity       Severity
}

// DivergenceType partitions volume-price divergences.
type DivergenceType string

const (
	DivergenceVolumeSpikeNoPrice DivergenceType = "volume_spike_no_price"
	DivergencePriceSpikeLowVol   DivergenceType = "price_spike_low_volume"
)

// Divergence flags a mismatch between volume movement and price
// movement for one asset.
type Divergence struct {
	Asset           string
	Type            DivergenceType
	VolumeChangePct float64
	PriceChangePct  float64
	Price           float64
	Volume          float64
	Severity        Severity
}

// Report carries every derived signal for one refresh cycle.
type Report struct {
	ComputedAt  time.Time
	Stale       bool
	Funding     []FundingEntry
	OISpikes    []OISpike
	OIRanking   []OIRankEntry
	VolSpikes   []VolumeSpike
	VolStats    VolumeStats
	Cascades    CascadeReport
	Divergences []Divergence
}
