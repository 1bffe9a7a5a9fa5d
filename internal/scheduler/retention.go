package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"whale-alerts/internal/storage"
)

// Retention deletes delivery audit rows older than Keep.
type Retention struct {
	pruner storage.DeliveryPruner
	keep   time.Duration
	logger zerolog.Logger
}

// NewRetention builds the pruning job.
func NewRetention(pruner storage.DeliveryPruner, keep time.Duration, logger zerolog.Logger) *Retention {
	return &Retention{
		pruner: pruner,
		keep:   keep,
		logger: logger.With().Str("component", "retention").Logger(),
	}
}

// Tick satisfies TickFunc.
func (r *Retention) Tick(ctx context.Context, at time.Time) error {
	_, err := r.Prune(ctx, at)
	return err
}

// Prune removes rows created before at minus the retention window and
// reports how many were deleted.
func (r *Retention) Prune(ctx context.Context, at time.Time) (int64, error) {
	if r.keep <= 0 {
		return 0, nil
	}
	cutoff := at.Add(-r.keep)
	deleted, err := r.pruner.DeleteDeliveriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	if deleted > 0 {
		r.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned delivery audit rows")
	}
	return deleted, nil
}
