package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"whale-alerts/internal/storage"
)

// Show prints recent deliveries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show deliveries")
	}
	defer closeStore()

	return printDeliveries(ctx, store, os.Stdout, opts)
}

func printDeliveries(ctx context.Context, reader storage.DeliveryReader, out io.Writer, opts ShowOptions) error {
	records, err := reader.ListRecentDeliveries(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.FailedOnly {
		failed := records[:0:0]
		for _, rec := range records {
			if !rec.Delivered {
				failed = append(failed, rec)
			}
		}
		records = failed
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no deliveries found")
		return nil
	}

	if err := writeDeliveryTable(out, records); err != nil {
		return err
	}

	total, err := reader.CountDeliveries(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nshowing %d of %d deliveries\n", len(records), total)
	return nil
}

func writeDeliveryTable(out io.Writer, records []storage.DeliveryRecord) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tChain\tAmount\tValue USD\tFrom -> To\tSocial\tInference\tDelivered\tError")

	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s -> %s\t%d\t%.2fs\t%t\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Blockchain,
			formatNullDecimal(rec.Amount, 2),
			formatNullDecimal(rec.ValueUSD, 0),
			sanitizeInline(rec.FromOwner),
			sanitizeInline(rec.ToOwner),
			rec.SocialCount,
			rec.Inference.Seconds(),
			rec.Delivered,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}
