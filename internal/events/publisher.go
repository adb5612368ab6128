package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicContributionConfirmed = "contribution.confirmed"
	TopicPaymentFailed         = "payment.failed"
)

// Event is a ledger outcome announced to downstream consumers.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"event_type"`
	JarID         string          `json:"jar_id"`
	Reference     string          `json:"reference"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewEvent(eventType, jarID, reference string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		JarID:      jarID,
		Reference:  reference,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, id string, topic string, payload []byte) error
}

// Emit marshals ev and publishes it under its type. Failures are logged and
// swallowed: events follow the ledger write and never gate it.
func Emit(ctx context.Context, pub Publisher, logger *slog.Logger, ev Event) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal event", "type", ev.Type, "reference", ev.Reference, "error", err)
		return
	}
	if err := pub.Publish(ctx, ev.ID, ev.Type, payload); err != nil {
		logger.Error("failed to publish event", "type", ev.Type, "reference", ev.Reference, "error", err)
	}
}

// LogPublisher writes events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, id string, topic string, payload []byte) error {
	p.logger.InfoContext(ctx, "event", "id", id, "topic", topic, "payload", string(payload))
	return nil
}
