package vault

import (
	"context"
	"sync"
	"time"

	"vaultd/internal/logger"

	"github.com/shopspring/decimal"
)

// DefaultMaxStrategies bounds the active registry.
const DefaultMaxStrategies = 20

// MaxToleranceBps is the basis-point denominator and the ceiling for any
// loss tolerance argument.
const MaxToleranceBps = 10_000

// StrategyRecord is the per-adapter bookkeeping entry. Records are never
// physically removed: revocation flags Active=false and unlinks the record
// from the withdrawal order.
type StrategyRecord struct {
	ActivatedAt time.Time
	LastReport  time.Time
	CurrentDebt decimal.Decimal
	MaxDebt     decimal.Decimal
	Active      bool
}

// Vault is the capital allocation and debt accounting engine. All
// state-mutating entry points serialize on a single mutex; the execution
// model is one operation at a time, completed or abandoned as a unit.
type Vault struct {
	mu sync.Mutex

	pool CapitalPool
	sink Sink

	maxStrategies int
	records       map[string]*StrategyRecord
	adapters      map[string]StrategyAdapter
	order         []string // withdrawal priority, insertion order, swap-removed
	totalDebt     decimal.Decimal

	now func() time.Time
}

// Option configures a Vault at construction.
type Option func(*Vault)

// WithSink attaches a durable record sink.
func WithSink(s Sink) Option {
	return func(v *Vault) { v.sink = s }
}

// WithMaxStrategies overrides the active-strategy bound.
func WithMaxStrategies(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.maxStrategies = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

func New(pool CapitalPool, opts ...Option) *Vault {
	v := &Vault{
		pool:          pool,
		maxStrategies: DefaultMaxStrategies,
		records:       make(map[string]*StrategyRecord),
		adapters:      make(map[string]StrategyAdapter),
		totalDebt:     decimal.Zero,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// TotalDebt returns the aggregate capital allocated across all strategies.
func (v *Vault) TotalDebt() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalDebt
}

// IdleBalance returns the pool capital not allocated to any strategy.
// Derived from the asset ledger, never stored redundantly.
func (v *Vault) IdleBalance() decimal.Decimal {
	return v.pool.IdleBalance()
}

// TotalAssets is the canonical accounting identity: idle + total debt.
func (v *Vault) TotalAssets() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pool.IdleBalance().Add(v.totalDebt)
}

// StrategySnapshot is a read-only copy of one registry entry.
type StrategySnapshot struct {
	ID          string          `json:"id"`
	ActivatedAt time.Time       `json:"activated_at"`
	LastReport  time.Time       `json:"last_report"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	MaxDebt     decimal.Decimal `json:"max_debt"`
	Active      bool            `json:"active"`
}

// Snapshot is a read-only view of the vault's aggregate state.
type Snapshot struct {
	Asset       string             `json:"asset"`
	TotalDebt   decimal.Decimal    `json:"total_debt"`
	IdleBalance decimal.Decimal    `json:"idle_balance"`
	TotalAssets decimal.Decimal    `json:"total_assets"`
	Strategies  []StrategySnapshot `json:"strategies"`
}

// Snapshot copies current state for view surfaces. Revoked records are
// included so their history stays visible.
func (v *Vault) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	idle := v.pool.IdleBalance()
	snap := Snapshot{
		Asset:       v.pool.Asset(),
		TotalDebt:   v.totalDebt,
		IdleBalance: idle,
		TotalAssets: idle.Add(v.totalDebt),
	}
	for _, id := range v.order {
		snap.Strategies = append(snap.Strategies, v.snapshotLocked(id))
	}
	for id, rec := range v.records {
		if !rec.Active {
			snap.Strategies = append(snap.Strategies, v.snapshotLocked(id))
		}
	}
	return snap
}

// Strategy returns a snapshot of one record.
func (v *Vault) Strategy(id string) (StrategySnapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.records[id]; !ok {
		return StrategySnapshot{}, false
	}
	return v.snapshotLocked(id), true
}

func (v *Vault) snapshotLocked(id string) StrategySnapshot {
	rec := v.records[id]
	return StrategySnapshot{
		ID:          id,
		ActivatedAt: rec.ActivatedAt,
		LastReport:  rec.LastReport,
		CurrentDebt: rec.CurrentDebt,
		MaxDebt:     rec.MaxDebt,
		Active:      rec.Active,
	}
}

func (v *Vault) emit(ctx context.Context, ev Event) {
	if v.sink == nil {
		return
	}
	if err := v.sink.RecordEvent(ctx, ev); err != nil {
		logger.Warnf("vault: record event %s failed: %v", ev.Type, err)
	}
}

func (v *Vault) persistRecord(ctx context.Context, id string) {
	if v.sink == nil {
		return
	}
	rec := v.records[id]
	if rec == nil {
		return
	}
	if err := v.sink.SaveStrategyRecord(ctx, id, *rec); err != nil {
		logger.Warnf("vault: persist strategy %s failed: %v", id, err)
	}
}
