package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AddStrategy registers an adapter with the given debt ceiling. The record
// starts at zero debt and is appended to the withdrawal order.
func (v *Vault) AddStrategy(ctx context.Context, adapter StrategyAdapter, maxDebt decimal.Decimal) error {
	if adapter == nil {
		return fmt.Errorf("nil adapter")
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return fmt.Errorf("adapter id cannot be empty")
	}
	if maxDebt.IsNegative() {
		return fmt.Errorf("%w: max debt %s", ErrInvalidAmount, maxDebt)
	}
	if asset := adapter.DeclaredAsset(); asset != v.pool.Asset() {
		return fmt.Errorf("%w: adapter=%s pool=%s", ErrAssetMismatch, asset, v.pool.Asset())
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if rec, ok := v.records[id]; ok && rec.Active {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}
	if len(v.order) >= v.maxStrategies {
		return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, v.maxStrategies)
	}

	now := v.now()
	v.records[id] = &StrategyRecord{
		ActivatedAt: now,
		CurrentDebt: decimal.Zero,
		MaxDebt:     maxDebt,
		Active:      true,
	}
	v.adapters[id] = adapter
	v.order = append(v.order, id)

	v.persistRecord(ctx, id)
	v.emit(ctx, newEvent(EventStrategyAdded, id, map[string]any{
		"max_debt": maxDebt.String(),
	}, now))
	return nil
}

// RevokeStrategy deactivates an adapter. Outstanding debt is first driven to
// zero through the allocator's decrease path with full loss tolerance, so a
// terminally illiquid adapter can still be evicted; the shortfall is
// recognized as loss. The record survives deactivated; only the withdrawal
// order entry is removed.
func (v *Vault) RevokeStrategy(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[id]
	if !ok || !rec.Active {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	if rec.CurrentDebt.IsPositive() {
		if _, err := v.setTargetDebtLocked(ctx, id, decimal.Zero, MaxToleranceBps); err != nil {
			return fmt.Errorf("revoke %s: %w", id, err)
		}
	}
	if rec.CurrentDebt.IsPositive() {
		// freeFunds path failed to zero out the record; refusing to strand debt.
		return fmt.Errorf("%w: %s holds %s", ErrDebtOutstanding, id, rec.CurrentDebt)
	}

	rec.Active = false
	v.removeFromOrder(id)
	delete(v.adapters, id)

	v.persistRecord(ctx, id)
	v.emit(ctx, newEvent(EventStrategyRevoked, id, nil, v.now()))
	return nil
}

// removeFromOrder drops id from the withdrawal order with swap-with-last.
// Order across remaining entries changes; order is only a priority tie-break,
// so that is acceptable.
func (v *Vault) removeFromOrder(id string) {
	for i, cur := range v.order {
		if cur != id {
			continue
		}
		last := len(v.order) - 1
		v.order[i] = v.order[last]
		v.order = v.order[:last]
		return
	}
}

// ActiveStrategies returns the ids in current withdrawal order.
func (v *Vault) ActiveStrategies() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// RestoreRecord reinstates a persisted registry entry at startup. Adapters
// must be re-bound separately; a record without an adapter is visible in
// snapshots but excluded from allocation until BindAdapter is called.
func (v *Vault) RestoreRecord(id string, rec StrategyRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := rec
	v.records[id] = &cp
	if rec.Active {
		v.order = append(v.order, id)
		v.totalDebt = v.totalDebt.Add(rec.CurrentDebt)
	}
}

// BindAdapter attaches a live adapter to a restored record.
func (v *Vault) BindAdapter(adapter StrategyAdapter) error {
	if adapter == nil {
		return fmt.Errorf("nil adapter")
	}
	id := adapter.ID()
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[id]
	if !ok || !rec.Active {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	v.adapters[id] = adapter
	return nil
}
