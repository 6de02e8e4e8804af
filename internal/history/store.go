// Package history keeps a bounded in-memory window of per-asset market
// series and liquidation events, pruned on every write.
package history

import (
	"sync"
	"time"

	"hyperstats/internal/venue"
)

// Field names one tracked series per asset.
type Field string

const (
	FieldFunding      Field = "funding"
	FieldOpenInterest Field = "openInterest"
	FieldVolume       Field = "volume"
	FieldPrice        Field = "price"
)

// Point is one observation of a tracked series.
type Point struct {
	Asset      string
	Field      Field
	Value      float64
	ObservedAt time.Time
}

// DefaultHorizon bounds retention when none is configured.
const DefaultHorizon = 24 * time.Hour

type seriesKey struct {
	asset string
	field Field
}

// Store is the shared window between the polling path (append + read)
// and the streaming path (event append). All methods are safe for
// concurrent use; reads return copies, never internal slices.
type Store struct {
	horizon time.Duration

	mu     sync.Mutex
	series map[seriesKey][]Point
	events []venue.LiquidationEvent
}

// NewStore constructs a window store with the given retention horizon.
func NewStore(horizon time.Duration) *Store {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Store{
		horizon: horizon,
		series:  make(map[seriesKey][]Point),
	}
}

// Horizon reports the configured retention horizon.
func (s *Store) Horizon() time.Duration { return s.horizon }

// Append records one observation and prunes the series in the same
// critical section, so memory stays bounded regardless of cadence.
// Appending an identical duplicate is harmless.
func (s *Store) Append(p Point) {
	if p.Asset == "" || p.Field == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{asset: p.Asset, field: p.Field}
	s.series[key] = pruneAppend(s.series[key], p, p.ObservedAt.Add(-s.horizon))
}

// AppendSnapshot fans one asset snapshot out into its tracked series.
func (s *Store) AppendSnapshot(snap venue.AssetSnapshot) {
	s.Append(Point{Asset: snap.Asset, Field: FieldFunding, Value: snap.FundingRate, ObservedAt: snap.ObservedAt})
	s.Append(Point{Asset: snap.Asset, Field: FieldOpenInterest, Value: snap.OpenInterest, ObservedAt: snap.ObservedAt})
	s.Append(Point{Asset: snap.Asset, Field: FieldVolume, Value: snap.DayVolume, ObservedAt: snap.ObservedAt})
	s.Append(Point{Asset: snap.Asset, Field: FieldPrice, Value: snap.MarkPrice, ObservedAt: snap.ObservedAt})
}

// AppendEvent records one liquidation event and prunes the event log.
func (s *Store) AppendEvent(event venue.LiquidationEvent) {
	if event.Asset == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := event.ObservedAt.Add(-s.horizon)
	kept := s.events[:0]
	for _, existing := range s.events {
		if !existing.ObservedAt.Before(cutoff) {
			kept = append(kept, existing)
		}
	}
	s.events = append(kept, event)
}

// ChangeOverWindow computes the percent change between the latest value
// and the oldest retained value within horizon. With fewer than two
// points, or a zero oldest value, the change is exactly 0: no history
// means no change, not an error.
func (s *Store) ChangeOverWindow(asset string, field Field, horizon time.Duration, now time.Time) float64 {
	points := s.Series(asset, field, horizon, now)
	if len(points) < 2 {
		return 0
	}

	oldest := points[0].Value
	latest := points[len(points)-1].Value
	if oldest == 0 {
		return 0
	}
	return (latest - oldest) / abs(oldest) * 100
}

// TrailingAverage computes the mean of all retained points within
// horizon, excluding the most recent one so the current observation
// does not inflate its own baseline. Returns 0 when there is no prior
// history.
func (s *Store) TrailingAverage(asset string, field Field, horizon time.Duration, now time.Time) float64 {
	points := s.Series(asset, field, horizon, now)
	if len(points) < 2 {
		return 0
	}

	prior := points[:len(points)-1]
	var sum float64
	for _, p := range prior {
		sum += p.Value
	}
	return sum / float64(len(prior))
}

// Series returns a copy of the retained points for asset+field within
// horizon, ordered by observation time.
func (s *Store) Series(asset string, field Field, horizon time.Duration, now time.Time) []Point {
	if horizon <= 0 || horizon > s.horizon {
		horizon = s.horizon
	}
	cutoff := now.Add(-horizon)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.series[seriesKey{asset: asset, field: field}]
	out := make([]Point, 0, len(stored))
	for _, p := range stored {
		if !p.ObservedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// EventsSince returns a copy of liquidation events observed at or after
// cutoff, in insertion order.
func (s *Store) EventsSince(cutoff time.Time) []venue.LiquidationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]venue.LiquidationEvent, 0, len(s.events))
	for _, event := range s.events {
		if !event.ObservedAt.Before(cutoff) {
			out = append(out, event)
		}
	}
	return out
}

// EventsSinceWithMinSize filters EventsSince by a minimum notional.
func (s *Store) EventsSinceWithMinSize(cutoff time.Time, minSize float64) []venue.LiquidationEvent {
	events := s.EventsSince(cutoff)
	if minSize <= 0 {
		return events
	}
	kept := events[:0]
	for _, event := range events {
		if event.Size >= minSize {
			kept = append(kept, event)
		}
	}
	return kept
}

// Prune drops all series points and events older than now - horizon.
// Writes already prune; this exists for explicit housekeeping after
// long idle stretches.
func (s *Store) Prune(now time.Time) {
	cutoff := now.Add(-s.horizon)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, points := range s.series {
		kept := points[:0]
		for _, p := range points {
			if !p.ObservedAt.Before(cutoff) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(s.series, key)
			continue
		}
		s.series[key] = kept
	}

	keptEvents := s.events[:0]
	for _, event := range s.events {
		if !event.ObservedAt.Before(cutoff) {
			keptEvents = append(keptEvents, event)
		}
	}
	s.events = keptEvents
}

func pruneAppend(points []Point, p Point, cutoff time.Time) []Point {
	kept := points[:0]
	for _, existing := range points {
		if !existing.ObservedAt.Before(cutoff) {
			kept = append(kept, existing)
		}
	}
	return append(kept, p)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
