package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"whale-alerts/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders delivery history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	records, err := store.ListDeliveriesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	records = filterSymbol(records, opts.Symbol)
	if len(records) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Str("symbol", opts.Symbol).Msg("no deliveries found for export window")
		return nil
	}

	downsampled := downsampleDeliveries(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting deliveries")

	if opts.CSVPath != "" {
		if err := writeDeliveriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDeliveriesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterSymbol(records []storage.DeliveryRecord, symbol string) []storage.DeliveryRecord {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return records
	}
	kept := records[:0:0]
	for _, rec := range records {
		if rec.Symbol == symbol {
			kept = append(kept, rec)
		}
	}
	return kept
}

func downsampleDeliveries(records []storage.DeliveryRecord, max int) []storage.DeliveryRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.DeliveryRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeDeliveriesCSV(path string, records []storage.DeliveryRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"created_at", "alert_id", "symbol", "blockchain", "amount", "value_usd", "from_owner", "to_owner", "feed_timestamp", "social_count", "inference_s", "total_s", "delivered", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = *rec.Error
		}
		row := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.AlertID.String(),
			rec.Symbol,
			rec.Blockchain,
			amountString(rec),
			valueString(rec),
			rec.FromOwner,
			rec.ToOwner,
			rec.FeedTimestamp,
			strconv.Itoa(rec.SocialCount),
			strconv.FormatFloat(rec.Inference.Seconds(), 'f', 3, 64),
			strconv.FormatFloat(rec.Total.Seconds(), 'f', 3, 64),
			strconv.FormatBool(rec.Delivered),
			errMsg,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func amountString(rec storage.DeliveryRecord) string {
	if !rec.Amount.Valid {
		return ""
	}
	return rec.Amount.Decimal.String()
}

func valueString(rec storage.DeliveryRecord) string {
	if !rec.ValueUSD.Valid {
		return ""
	}
	return rec.ValueUSD.Decimal.String()
}

// buildDeliverySeries groups USD value by symbol and collects the model
// latency of every record on the secondary axis.
func buildDeliverySeries(records []storage.DeliveryRecord) []chart.Series {
	type points struct {
		x []time.Time
		y []float64
	}
	bySymbol := map[string]*points{}
	latency := points{}

	for _, rec := range records {
		latency.x = append(latency.x, rec.CreatedAt)
		latency.y = append(latency.y, rec.Inference.Seconds())

		if !rec.ValueUSD.Valid {
			continue
		}
		p, ok := bySymbol[rec.Symbol]
		if !ok {
			p = &points{}
			bySymbol[rec.Symbol] = p
		}
		p.x = append(p.x, rec.CreatedAt)
		p.y = append(p.y, rec.ValueUSD.Decimal.InexactFloat64())
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	series := make([]chart.Series, 0, len(symbols)+1)
	for _, symbol := range symbols {
		p := bySymbol[symbol]
		series = append(series, chart.TimeSeries{
			Name:    symbol + " value (USD)",
			XValues: p.x,
			YValues: p.y,
			Style:   chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4},
		})
	}
	series = append(series, chart.TimeSeries{
		Name:    "Inference (s)",
		XValues: latency.x,
		YValues: latency.y,
		YAxis:   chart.YAxisSecondary,
	})
	return series
}

func writeDeliveriesPNG(path string, records []storage.DeliveryRecord) error {
	if len(records) < 2 {
		return errors.New("at least two deliveries are required to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Transfer value (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Inference (s)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: buildDeliverySeries(records),
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
