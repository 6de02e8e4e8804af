package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"hyperstats/internal/signals"
	"hyperstats/internal/venue"
)

// Export fetches an asset's funding rate history from the venue and
// renders it as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	asset := strings.ToUpper(strings.TrimSpace(opts.Asset))
	if asset == "" {
		return errors.New("--asset is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.Refresh.Horizon)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	client := a.newClient()
	historyByCoin, err := client.FundingHistoryBatch(ctx, []string{asset}, from, to)
	if err != nil {
		return err
	}
	points := historyByCoin[asset]
	if len(points) == 0 {
		a.Logger.Info().Str("asset", asset).Msg("no funding history for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Str("asset", asset).Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting funding history")

	if opts.CSVPath != "" {
		if err := writeFundingCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFundingPNG(opts.PNGPath, asset, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsamplePoints(points []venue.FundingPoint, max int) []venue.FundingPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]venue.FundingPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeFundingCSV(path string, points []venue.FundingPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "asset", "funding_rate", "annualized_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.ObservedAt.UTC().Format(time.RFC3339),
			point.Asset,
			strconv.FormatFloat(point.Rate, 'g', -1, 64),
			strconv.FormatFloat(signals.AnnualizeFunding(point.Rate), 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeFundingPNG(path, asset string, points []venue.FundingPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	annualized := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.ObservedAt
		annualized[i] = signals.AnnualizeFunding(point.Rate)
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Annualized funding (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    asset,
				XValues: x,
				YValues: annualized,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
