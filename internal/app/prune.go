package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"whale-alerts/internal/scheduler"
)

// Prune deletes delivery records older than the cutoff. Without --before
// the configured retention decides the cutoff.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	now := time.Now().UTC()
	var keep time.Duration
	switch {
	case opts.Before != nil:
		if !opts.Before.Before(now) {
			return errors.New("--before must be in the past")
		}
		keep = now.Sub(opts.Before.UTC())
	case a.Config.Audit.Retention > 0:
		keep = a.Config.Audit.Retention
	default:
		return errors.New("audit.retention not configured; pass --before")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	defer closeStore()

	retention := scheduler.NewRetention(store, keep, a.Logger)
	deleted, err := retention.Prune(ctx, now)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "deleted %d deliveries older than %s\n", deleted, now.Add(-keep).Format(time.RFC3339))
	return nil
}
