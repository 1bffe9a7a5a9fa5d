package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryRecord is the audit row written once per processed alert.
type DeliveryRecord struct {
	ID         int64
	AlertID    uuid.UUID
	Symbol     string
	Blockchain string
	// Amount and ValueUSD are invalid when the feed sent something unparseable.
	Amount        decimal.NullDecimal
	ValueUSD      decimal.NullDecimal
	FromOwner     string
	ToOwner       string
	FeedTimestamp string
	Summary       string
	SocialCount   int
	Analysis      string
	Inference     time.Duration
	Total         time.Duration
	Delivered     bool
	Error         *string
	CreatedAt     time.Time
}
