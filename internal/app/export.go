package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"lol-match-alerts/internal/storage"
)

// Export renders one player's stat history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PUUID == "" {
		return errors.New("puuid is required")
	}
	if _, ok := storage.StatColumn(opts.StatField); !ok {
		return fmt.Errorf("unknown stat field %q", opts.StatField)
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	series, err := store.PlayerStatSeries(ctx, opts.PUUID, opts.StatField, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		a.Logger.Info().Str("puuid", opts.PUUID).Msg("no matches found for export")
		return nil
	}

	downsampled := downsamplePoints(series, opts.MaxPoints)
	a.Logger.Info().
		Int("total", len(series)).
		Int("exported", len(downsampled)).
		Str("stat", opts.StatField).
		Msg("exporting stat history")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, opts.StatField, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.StatField, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []storage.StatPoint, max int) []storage.StatPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.StatPoint, 0, max)
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

func writePointsCSV(path, statField string, points []storage.StatPoint) error {
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

	if err := writer.Write([]string{"game_start", "match_id", statField}); err != nil {
		return err
	}
	for _, p := range points {
		record := []string{
			p.GameStart.UTC().Format(time.RFC3339),
			p.MatchID,
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePointsPNG(path, statField string, points []storage.StatPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.GameStart
		y[i] = p.Value
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: statField,
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    statField,
				XValues: x,
				YValues: y,
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
