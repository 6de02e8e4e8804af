package history

import (
	"math"
	"testing"
	"time"

	"hyperstats/internal/venue"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChangeOverWindowNoHistory(t *testing.T) {
	s := NewStore(DefaultHorizon)

	if got := s.ChangeOverWindow("BTC", FieldOpenInterest, time.Hour, baseTime); got != 0 {
		t.Fatalf("no history must yield exactly 0, got %v", got)
	}

	s.Append(Point{Asset: "BTC", Field: FieldOpenInterest, Value: 100, ObservedAt: baseTime})
	if got := s.ChangeOverWindow("BTC", FieldOpenInterest, time.Hour, baseTime); got != 0 {
		t.Fatalf("single point must yield exactly 0, got %v", got)
	}
}

func TestChangeOverWindowZeroBaseline(t *testing.T) {
	s := NewStore(DefaultHorizon)
	s.Append(Point{Asset: "BTC", Field: FieldVolume, Value: 0, ObservedAt: baseTime.Add(-time.Hour)})
	s.Append(Point{Asset: "BTC", Field: FieldVolume, Value: 500, ObservedAt: baseTime})

	if got := s.ChangeOverWindow("BTC", FieldVolume, 2*time.Hour, baseTime); got != 0 {
		t.Fatalf("zero baseline must yield 0, not a division blow-up, got %v", got)
	}
}

func TestChangeOverWindowPercent(t *testing.T) {
	s := NewStore(DefaultHorizon)
	s.Append(Point{Asset: "ETH", Field: FieldOpenInterest, Value: 200, ObservedAt: baseTime.Add(-2 * time.Hour)})
	s.Append(Point{Asset: "ETH", Field: FieldOpenInterest, Value: 240, ObservedAt: baseTime.Add(-time.Hour)})
	s.Append(Point{Asset: "ETH", Field: FieldOpenInterest, Value: 260, ObservedAt: baseTime})

	got := s.ChangeOverWindow("ETH", FieldOpenInterest, 3*time.Hour, baseTime)
	if math.Abs(got-30) > 1e-9 {
		t.Fatalf("expected +30%%, got %v", got)
	}

	// Narrower horizon excludes the oldest point.
	got = s.ChangeOverWindow("ETH", FieldOpenInterest, 90*time.Minute, baseTime)
	if math.Abs(got-(260-240)/240.0*100) > 1e-9 {
		t.Fatalf("horizon should clip the baseline, got %v", got)
	}

	s.Append(Point{Asset: "SOL", Field: FieldOpenInterest, Value: -100, ObservedAt: baseTime.Add(-time.Hour)})
	s.Append(Point{Asset: "SOL", Field: FieldOpenInterest, Value: -50, ObservedAt: baseTime})
	got = s.ChangeOverWindow("SOL", FieldOpenInterest, 2*time.Hour, baseTime)
	if math.Abs(got-50) > 1e-9 {
		t.Fatalf("negative baseline uses magnitude, expected +50%%, got %v", got)
	}
}

func TestTrailingAverageExcludesLatest(t *testing.T) {
	s := NewStore(DefaultHorizon)

	if got := s.TrailingAverage("BTC", FieldVolume, time.Hour, baseTime); got != 0 {
		t.Fatalf("no prior history must average to 0, got %v", got)
	}

	s.Append(Point{Asset: "BTC", Field: FieldVolume, Value: 100, ObservedAt: baseTime.Add(-3 * time.Hour)})
	s.Append(Point{Asset: "BTC", Field: FieldVolume, Value: 200, ObservedAt: baseTime.Add(-2 * time.Hour)})
	s.Append(Point{Asset: "BTC", Field: FieldVolume, Value: 9000, ObservedAt: baseTime})

	got := s.TrailingAverage("BTC", FieldVolume, 4*time.Hour, baseTime)
	if math.Abs(got-150) > 1e-9 {
		t.Fatalf("latest point must not inflate its own baseline, expected 150, got %v", got)
	}
}

func TestAppendPrunesBeyondHorizon(t *testing.T) {
	s := NewStore(time.Hour)
	s.Append(Point{Asset: "BTC", Field: FieldPrice, Value: 1, ObservedAt: baseTime.Add(-2 * time.Hour)})
	s.Append(Point{Asset: "BTC", Field: FieldPrice, Value: 2, ObservedAt: baseTime.Add(-30 * time.Minute)})
	s.Append(Point{Asset: "BTC", Field: FieldPrice, Value: 3, ObservedAt: baseTime})

	points := s.Series("BTC", FieldPrice, time.Hour, baseTime)
	if len(points) != 2 {
		t.Fatalf("expected the expired point dropped, got %d points", len(points))
	}
	if points[0].Value != 2 || points[1].Value != 3 {
		t.Fatalf("unexpected retained points: %+v", points)
	}
}

func TestAppendSnapshotFansOut(t *testing.T) {
	s := NewStore(DefaultHorizon)
	s.AppendSnapshot(venue.AssetSnapshot{
		Asset:        "BTC",
		MarkPrice:    65000,
		OpenInterest: 1200,
		FundingRate:  0.0001,
		DayVolume:    9e6,
		ObservedAt:   baseTime,
	})

	for _, field := range []Field{FieldFunding, FieldOpenInterest, FieldVolume, FieldPrice} {
		if got := s.Series("BTC", field, time.Hour, baseTime); len(got) != 1 {
			t.Fatalf("field %s not recorded", field)
		}
	}
}

func TestEventsSinceWithMinSize(t *testing.T) {
	s := NewStore(DefaultHorizon)
	s.AppendEvent(venue.LiquidationEvent{Asset: "BTC", Side: venue.SideLong, Size: 5, ObservedAt: baseTime.Add(-10 * time.Minute)})
	s.AppendEvent(venue.LiquidationEvent{Asset: "ETH", Side: venue.SideShort, Size: 50, ObservedAt: baseTime.Add(-5 * time.Minute)})
	s.AppendEvent(venue.LiquidationEvent{Asset: "BTC", Side: venue.SideLong, Size: 500, ObservedAt: baseTime})

	all := s.EventsSince(baseTime.Add(-time.Hour))
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	big := s.EventsSinceWithMinSize(baseTime.Add(-time.Hour), 50)
	if len(big) != 2 {
		t.Fatalf("expected 2 events at or above min size, got %d", len(big))
	}

	recent := s.EventsSince(baseTime.Add(-time.Minute))
	if len(recent) != 1 || recent[0].Size != 500 {
		t.Fatalf("cutoff filter broken: %+v", recent)
	}
}

func TestPruneHousekeeping(t *testing.T) {
	s := NewStore(time.Hour)
	s.Append(Point{Asset: "BTC", Field: FieldPrice, Value: 1, ObservedAt: baseTime})
	s.AppendEvent(venue.LiquidationEvent{Asset: "BTC", Size: 1, ObservedAt: baseTime})

	s.Prune(baseTime.Add(2 * time.Hour))

	if got := s.Series("BTC", FieldPrice, time.Hour, baseTime.Add(2*time.Hour)); len(got) != 0 {
		t.Fatalf("expired series should be gone, got %+v", got)
	}
	if got := s.EventsSince(time.Time{}); len(got) != 0 {
		t.Fatalf("expired events should be gone, got %+v", got)
	}
}
