package signals

import (
	"math"
	"sort"
	"time"

	"hyperstats/internal/history"
	"hyperstats/internal/venue"
)

// divergences classifies assets whose volume and price move out of
// step. Both change values come from the window store; an asset with
// no retained history reads as zero change on both axes and is never
// flagged.
func (e *Engine) divergences(set venue.SnapshotSet, now time.Time) []Divergence {
	threshold := e.opts.DivergenceThresholdPct
	quiet := threshold / 10

	out := make([]Divergence, 0)
	for _, snap := range set.Assets {
		volumeChange := e.window.ChangeOverWindow(snap.Asset, history.FieldVolume, e.opts.Horizon, now)
		priceChange := e.window.ChangeOverWindow(snap.Asset, history.FieldPrice, e.opts.Horizon, now)

		var kind DivergenceType
		var dominant float64
		switch {
		case math.Abs(volumeChange) > threshold && math.Abs(priceChange) < quiet:
			kind = DivergenceVolumeSpikeNoPrice
			dominant = math.Abs(volumeChange)
		case math.Abs(priceChange) > threshold && math.Abs(volumeChange) < quiet:
			kind = DivergencePriceSpikeLowVol
			dominant = math.Abs(priceChange)
		default:
			continue
		}

		severity := SeverityMedium
		if dominant > threshold*2 {
			severity = SeverityHigh
		}

		out = append(out, Divergence{
			Asset:           snap.Asset,
			Type:            kind,
			VolumeChangePct: volumeChange,
			PriceChangePct:  priceChange,
			Price:           snap.MarkPrice,
			Volume:          snap.DayVolume,
			Severity:        severity,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity == SeverityHigh
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
