package feed

import (
	"context"

	"github.com/google/uuid"
)

type alertIDKey struct{}

// WithAlertID tags ctx with the correlation id assigned to one alert.
func WithAlertID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, alertIDKey{}, id)
}

// AlertIDFrom returns the id set by WithAlertID.
func AlertIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(alertIDKey{}).(uuid.UUID)
	return id, ok
}
