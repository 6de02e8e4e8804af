package signals

import (
	"sort"
	"time"

	"hyperstats/internal/venue"
)

func (e *Engine) cascades(now time.Time) CascadeReport {
	events := e.window.EventsSinceWithMinSize(now.Add(-e.opts.Horizon), e.opts.MinLiquidationSize)
	return BucketCascades(events, e.opts.CascadeBucket, e.opts.CascadeMinCount)
}

// BucketCascades partitions liquidation events into fixed-width time
// buckets and flags every bucket holding at least minCount events as a
// cascade period.
func BucketCascades(events []venue.LiquidationEvent, bucket time.Duration, minCount int) CascadeReport {
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	if minCount <= 0 {
		minCount = 3
	}

	report := CascadeReport{TotalEvents: len(events), Severity: SeverityLow}
	if len(events) == 0 {
		return report
	}

	type bucketStats struct {
		count int
		size  float64
	}
	buckets := make(map[time.Time]*bucketStats)
	for _, event := range events {
		report.TotalSize += event.Size
		start := event.ObservedAt.Truncate(bucket)
		stats, ok := buckets[start]
		if !ok {
			stats = &bucketStats{}
			buckets[start] = stats
		}
		stats.count++
		stats.size += event.Size
	}

	for start, stats := range buckets {
		if stats.count < minCount {
			continue
		}
		report.Periods = append(report.Periods, CascadePeriod{
			Start:     start,
			Count:     stats.count,
			TotalSize: stats.size,
		})
		if stats.count > report.LargestCascade {
			report.LargestCascade = stats.count
		}
	}

	sort.Slice(report.Periods, func(i, j int) bool {
		return report.Periods[i].Start.Before(report.Periods[j].Start)
	})

	if report.LargestCascade > 0 {
		report.Severity = ratioSeverity(float64(report.LargestCascade), float64(minCount))
	}
	return report
}
