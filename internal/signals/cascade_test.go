package signals

import (
	"testing"
	"time"

	"hyperstats/internal/history"
	"hyperstats/internal/venue"
)

func liq(asset string, side venue.LiquidationSide, size float64, at time.Time) venue.LiquidationEvent {
	return venue.LiquidationEvent{Asset: asset, Side: side, Size: size, ObservedAt: at}
}

func TestBucketCascadesThreshold(t *testing.T) {
	bucketStart := testTime.Truncate(5 * time.Minute)

	// Exactly three events in one bucket: a cascade. Two in another: not.
	events := []venue.LiquidationEvent{
		liq("BTC", venue.SideLong, 10, bucketStart.Add(10*time.Second)),
		liq("ETH", venue.SideShort, 20, bucketStart.Add(90*time.Second)),
		liq("BTC", venue.SideLong, 30, bucketStart.Add(4*time.Minute)),
		liq("SOL", venue.SideLong, 5, bucketStart.Add(6*time.Minute)),
		liq("SOL", venue.SideShort, 5, bucketStart.Add(7*time.Minute)),
	}

	report := BucketCascades(events, 5*time.Minute, 3)

	if report.TotalEvents != 5 {
		t.Fatalf("expected 5 total events, got %d", report.TotalEvents)
	}
	if report.TotalSize != 70 {
		t.Fatalf("expected total size 70, got %v", report.TotalSize)
	}
	if len(report.Periods) != 1 {
		t.Fatalf("expected exactly one cascade period, got %+v", report.Periods)
	}
	period := report.Periods[0]
	if !period.Start.Equal(bucketStart) || period.Count != 3 || period.TotalSize != 60 {
		t.Fatalf("unexpected period: %+v", period)
	}
	if report.LargestCascade != 3 {
		t.Fatalf("expected largest cascade 3, got %d", report.LargestCascade)
	}
	if report.Severity != SeverityMedium {
		t.Fatalf("3 against a bar of 3 should grade medium, got %s", report.Severity)
	}
}

func TestBucketCascadesEmptyAndBelowThreshold(t *testing.T) {
	report := BucketCascades(nil, 5*time.Minute, 3)
	if report.TotalEvents != 0 || len(report.Periods) != 0 || report.Severity != SeverityLow {
		t.Fatalf("empty input should yield an empty low report: %+v", report)
	}

	bucketStart := testTime.Truncate(5 * time.Minute)
	report = BucketCascades([]venue.LiquidationEvent{
		liq("BTC", venue.SideLong, 1, bucketStart),
		liq("BTC", venue.SideLong, 1, bucketStart.Add(time.Minute)),
	}, 5*time.Minute, 3)
	if len(report.Periods) != 0 || report.LargestCascade != 0 {
		t.Fatalf("two events must not form a cascade: %+v", report)
	}
	if report.TotalEvents != 2 {
		t.Fatalf("below-threshold events still count toward totals, got %d", report.TotalEvents)
	}
}

func TestCascadesRespectMinLiquidationSize(t *testing.T) {
	window := history.NewStore(history.DefaultHorizon)
	e := NewEngine(Options{MinLiquidationSize: 100}, window, noopLogger())

	bucketStart := testTime.Truncate(5 * time.Minute)
	// Three dust events plus two sized ones in the same bucket: with
	// the size floor only the two survive, below the cascade bar.
	for i := 0; i < 3; i++ {
		window.AppendEvent(liq("BTC", venue.SideLong, 1, bucketStart.Add(time.Duration(i)*time.Second)))
	}
	window.AppendEvent(liq("BTC", venue.SideLong, 500, bucketStart.Add(10*time.Second)))
	window.AppendEvent(liq("BTC", venue.SideShort, 200, bucketStart.Add(20*time.Second)))

	report := e.Compute(venue.SnapshotSet{Assets: map[string]venue.AssetSnapshot{}}, testTime.Add(time.Minute))
	if report.Cascades.TotalEvents != 2 {
		t.Fatalf("events below the size floor must be excluded, got %d", report.Cascades.TotalEvents)
	}
	if len(report.Cascades.Periods) != 0 {
		t.Fatalf("filtered bucket must not cascade: %+v", report.Cascades.Periods)
	}

	unfiltered := NewEngine(Options{}, window, noopLogger())
	report = unfiltered.Compute(venue.SnapshotSet{Assets: map[string]venue.AssetSnapshot{}}, testTime.Add(time.Minute))
	if len(report.Cascades.Periods) != 1 || report.Cascades.LargestCascade != 5 {
		t.Fatalf("without a floor all five events cascade: %+v", report.Cascades)
	}
}

func TestBucketCascadesPeriodsSorted(t *testing.T) {
	early := testTime.Add(-time.Hour).Truncate(5 * time.Minute)
	late := testTime.Truncate(5 * time.Minute)

	var events []venue.LiquidationEvent
	for i := 0; i < 6; i++ {
		events = append(events, liq("BTC", venue.SideLong, 1, late.Add(time.Duration(i)*time.Second)))
	}
	for i := 0; i < 3; i++ {
		events = append(events, liq("ETH", venue.SideShort, 1, early.Add(time.Duration(i)*time.Second)))
	}

	report := BucketCascades(events, 5*time.Minute, 3)
	if len(report.Periods) != 2 {
		t.Fatalf("expected 2 periods, got %+v", report.Periods)
	}
	if !report.Periods[0].Start.Equal(early) {
		t.Fatal("periods must be sorted by start time")
	}
	if report.LargestCascade != 6 {
		t.Fatalf("expected largest cascade 6, got %d", report.LargestCascade)
	}
	if report.Severity != SeverityHigh {
		t.Fatalf("6 against a bar of 3 should grade high, got %s", report.Severity)
	}
}
