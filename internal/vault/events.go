package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventStrategyAdded   EventType = "strategy_added"
	EventStrategyRevoked EventType = "strategy_revoked"
	EventDebtUpdated     EventType = "debt_updated"
	EventLossRecognized  EventType = "loss_recognized"
	EventReport          EventType = "report"
	EventWithdrawal      EventType = "withdrawal"
)

// Event is a bookkeeping record emitted by state-mutating vault operations.
type Event struct {
	TraceID  string
	Type     EventType
	Strategy string
	Payload  map[string]any
	At       time.Time
}

// ReportRecord is the reconciliation outcome for one strategy.
type ReportRecord struct {
	TraceID     string          `json:"trace_id"`
	Strategy    string          `json:"strategy"`
	Profit      decimal.Decimal `json:"profit"`
	Loss        decimal.Decimal `json:"loss"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	At          time.Time       `json:"at"`
}

// Sink receives durable vault records. All methods are best-effort from the
// engine's point of view: persistence failures are logged, never allowed to
// unwind completed accounting.
type Sink interface {
	RecordEvent(ctx context.Context, ev Event) error
	RecordReport(ctx context.Context, rep ReportRecord) error
	SaveStrategyRecord(ctx context.Context, id string, rec StrategyRecord) error
}

func newEvent(typ EventType, strategy string, payload map[string]any, at time.Time) Event {
	return Event{
		TraceID:  uuid.NewString(),
		Type:     typ,
		Strategy: strategy,
		Payload:  payload,
		At:       at,
	}
}
