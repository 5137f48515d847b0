package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LedgerEventsChannel is the Redis pub/sub channel ledger events go to.
const LedgerEventsChannel = "ledger_events"

const (
	EventTransferCompleted   = "transfer.completed"
	EventDepositCompleted    = "deposit.completed"
	EventWithdrawalCompleted = "withdrawal.completed"
)

// Event is published after a ledger operation commits.
type Event struct {
	Type            string    `json:"event_type"`
	UserID          int64     `json:"user_id"`
	TransactionID   string    `json:"transaction_id"`
	ReferenceNumber string    `json:"reference_number"`
	Amount          string    `json:"amount"`
	FromAccount     string    `json:"from_account,omitempty"`
	ToAccount       string    `json:"to_account,omitempty"`
	TransferType    string    `json:"transfer_type,omitempty"`
	BalanceAfter    string    `json:"balance_after,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher fans ledger events out over Redis pub/sub.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, channel: LedgerEventsChannel}
}

// Publish sends the event as JSON. Timestamp is filled in when zero.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Ledger event published", "event", evt.Type, "reference", evt.ReferenceNumber)
	return nil
}
