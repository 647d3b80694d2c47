package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceChanged is emitted after an operation commits. It carries the
// committed balance, not a replayable history.
type BalanceChanged struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	OperationType string          `json:"operation_type"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishBalanceChanged(event BalanceChanged) error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishBalanceChanged(BalanceChanged) error { return nil }

var _ Publisher = NoopPublisher{}
