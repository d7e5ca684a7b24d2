package model

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyRecordModel mirrors one registry entry. Amounts are stored as
// decimal strings; float columns are not acceptable for pool accounting.
type StrategyRecordModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	StrategyID  string    `gorm:"column:strategy_id;uniqueIndex"`
	ActivatedAt int64     `gorm:"column:activated_at"`
	LastReport  int64     `gorm:"column:last_report"`
	CurrentDebt string    `gorm:"column:current_debt"`
	MaxDebt     string    `gorm:"column:max_debt"`
	Active      bool      `gorm:"column:active"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (StrategyRecordModel) TableName() string { return "strategy_records" }

// ReportModel is one reconciliation outcome.
type ReportModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	TraceID     string    `gorm:"column:trace_id;uniqueIndex"`
	StrategyID  string    `gorm:"column:strategy_id;index"`
	Profit      string    `gorm:"column:profit"`
	Loss        string    `gorm:"column:loss"`
	CurrentDebt string    `gorm:"column:current_debt"`
	ReportedAt  int64     `gorm:"column:reported_at"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (ReportModel) TableName() string { return "reports" }

// UsedPayloadModel is the durable replay set. The unique index on digest is
// the correctness anchor: the insert either lands exactly once or is
// rejected, no separate existence check required.
type UsedPayloadModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Digest    string    `gorm:"column:digest;uniqueIndex"`
	Deadline  int64     `gorm:"column:deadline;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (UsedPayloadModel) TableName() string { return "used_payloads" }

// EventModel is the vault event log.
type EventModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	TraceID    string         `gorm:"column:trace_id;uniqueIndex"`
	Type       string         `gorm:"column:type;index"`
	StrategyID string         `gorm:"column:strategy_id;index"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	OccurredAt int64          `gorm:"column:occurred_at"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (EventModel) TableName() string { return "vault_events" }
