package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whale-alerts/internal/feed"
	"whale-alerts/internal/metrics"
	"whale-alerts/internal/service"
	"whale-alerts/internal/storage"
)

// SimulateAlert pushes one synthetic alert through the full workflow,
// including delivery and, when a database is configured, the audit row.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.Result, error) {
	if err := a.Config.ValidateDelivery(); err != nil {
		return service.Result{}, err
	}

	var deliveries storage.DeliveryStore
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.Result{}, err
	}
	if store != nil {
		defer closeStore()
		if err := store.EnsureSchema(ctx); err != nil {
			return service.Result{}, err
		}
		deliveries = store
	}

	client := newHTTPClient()
	defer client.CloseIdleConnections()

	svc := a.newWorkflow(client, deliveries, metrics.New())
	res := svc.Process(ctx, simulatedAlert(opts, time.Now()))
	if res.Skipped {
		return res, fmt.Errorf("alert skipped: symbol %q is not usable", opts.Symbol)
	}
	if res.Err != nil {
		return res, fmt.Errorf("deliver simulated alert: %w", res.Err)
	}
	return res, nil
}

func simulatedAlert(opts SimulateOptions, now time.Time) feed.AlertRecord {
	owner := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "unknown"
		}
		return v
	}
	return feed.AlertRecord{
		Symbol:     strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		Blockchain: strings.ToUpper(strings.TrimSpace(opts.Blockchain)),
		Amount:     json.Number(strings.TrimSpace(opts.Amount)),
		ValueUSD:   json.Number(strings.TrimSpace(opts.ValueUSD)),
		FromOwner:  owner(opts.From),
		ToOwner:    owner(opts.To),
		Timestamp:  json.Number(strconv.FormatInt(now.Unix(), 10)),
	}
}
