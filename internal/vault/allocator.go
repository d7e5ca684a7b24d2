package vault

import (
	"context"
	"fmt"

	"vaultd/internal/logger"

	"github.com/shopspring/decimal"
)

var bpsDenominator = decimal.NewFromInt(MaxToleranceBps)

// SetTargetDebt moves a strategy's allocated capital toward target.
//
// Increases are capped at the available idle balance; a thin pool yields a
// silent partial allocation rather than an error. Decreases ask the adapter
// to free funds and tolerate a shortfall up to lossToleranceBps of the
// current debt; anything beyond that aborts with ErrLossToleranceExceeded.
// An absorbed shortfall reduces debt by the full requested amount: the gap
// is recognized loss, never phantom debt. A rejected decrease still banks
// whatever the adapter freed, as a lossless partial decrease.
//
// Returns the realized current debt.
func (v *Vault) SetTargetDebt(ctx context.Context, id string, target decimal.Decimal, lossToleranceBps int64) (decimal.Decimal, error) {
	if target.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: target %s", ErrInvalidAmount, target)
	}
	if lossToleranceBps < 0 || lossToleranceBps > MaxToleranceBps {
		return decimal.Zero, fmt.Errorf("%w: %d bps", ErrInvalidTolerance, lossToleranceBps)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setTargetDebtLocked(ctx, id, target, lossToleranceBps)
}

func (v *Vault) setTargetDebtLocked(ctx context.Context, id string, target decimal.Decimal, lossToleranceBps int64) (decimal.Decimal, error) {
	rec, ok := v.records[id]
	if !ok || !rec.Active {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	adapter, ok := v.adapters[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s has no bound adapter", ErrNotActive, id)
	}
	if target.GreaterThan(rec.MaxDebt) {
		return decimal.Zero, fmt.Errorf("%w: target %s > ceiling %s", ErrDebtExceedsCeiling, target, rec.MaxDebt)
	}

	switch target.Cmp(rec.CurrentDebt) {
	case 0:
		return rec.CurrentDebt, nil
	case 1:
		return v.increaseDebtLocked(ctx, id, adapter, rec, target)
	default:
		return v.decreaseDebtLocked(ctx, id, adapter, rec, target, lossToleranceBps)
	}
}

func (v *Vault) increaseDebtLocked(ctx context.Context, id string, adapter StrategyAdapter, rec *StrategyRecord, target decimal.Decimal) (decimal.Decimal, error) {
	increment := target.Sub(rec.CurrentDebt)
	idle := v.pool.IdleBalance()
	if increment.GreaterThan(idle) {
		// Designed degradation: allocate what the pool has, no error.
		increment = idle
	}
	if !increment.IsPositive() {
		return rec.CurrentDebt, nil
	}

	if err := v.pool.TransferOut(id, increment); err != nil {
		return rec.CurrentDebt, fmt.Errorf("transfer to %s failed: %w", id, err)
	}
	if err := adapter.DeployFunds(ctx, increment); err != nil {
		return rec.CurrentDebt, fmt.Errorf("deploy to %s failed: %w", id, err)
	}

	rec.CurrentDebt = rec.CurrentDebt.Add(increment)
	v.totalDebt = v.totalDebt.Add(increment)

	v.persistRecord(ctx, id)
	v.emit(ctx, newEvent(EventDebtUpdated, id, map[string]any{
		"direction":    "increase",
		"amount":       increment.String(),
		"current_debt": rec.CurrentDebt.String(),
	}, v.now()))
	logger.Debugf("vault: %s debt +%s -> %s", id, increment, rec.CurrentDebt)
	return rec.CurrentDebt, nil
}

func (v *Vault) decreaseDebtLocked(ctx context.Context, id string, adapter StrategyAdapter, rec *StrategyRecord, target decimal.Decimal, lossToleranceBps int64) (decimal.Decimal, error) {
	requested := rec.CurrentDebt.Sub(target)

	freed, err := adapter.FreeFunds(ctx, requested)
	if err != nil {
		return rec.CurrentDebt, fmt.Errorf("free funds from %s failed: %w", id, err)
	}
	if freed.IsNegative() {
		freed = decimal.Zero
	}
	if freed.GreaterThan(requested) {
		freed = requested
	}

	// The adapter has already let go of freed; it must land in the pool
	// before any verdict, a rejected decrease cannot strand it.
	if freed.IsPositive() {
		if err := v.pool.TransferIn(id, freed); err != nil {
			return rec.CurrentDebt, fmt.Errorf("transfer from %s failed: %w", id, err)
		}
	}

	shortfall := requested.Sub(freed)
	if shortfall.IsPositive() {
		maxLoss := rec.CurrentDebt.Mul(decimal.NewFromInt(lossToleranceBps)).Div(bpsDenominator)
		if shortfall.GreaterThan(maxLoss) {
			// Keep the completed portion as a lossless partial decrease.
			rec.CurrentDebt = decimal.Max(decimal.Zero, rec.CurrentDebt.Sub(freed))
			v.totalDebt = decimal.Max(decimal.Zero, v.totalDebt.Sub(freed))
			v.persistRecord(ctx, id)
			v.emit(ctx, newEvent(EventDebtUpdated, id, map[string]any{
				"direction":    "decrease",
				"requested":    requested.String(),
				"freed":        freed.String(),
				"current_debt": rec.CurrentDebt.String(),
			}, v.now()))
			return rec.CurrentDebt, fmt.Errorf("%w: shortfall %s > allowed %s", ErrLossToleranceExceeded, shortfall, maxLoss)
		}
	}

	// Debt drops by the full requested amount; the shortfall is recognized
	// loss, not carried forward.
	rec.CurrentDebt = rec.CurrentDebt.Sub(requested)
	v.totalDebt = decimal.Max(decimal.Zero, v.totalDebt.Sub(requested))

	v.persistRecord(ctx, id)
	v.emit(ctx, newEvent(EventDebtUpdated, id, map[string]any{
		"direction":    "decrease",
		"requested":    requested.String(),
		"freed":        freed.String(),
		"current_debt": rec.CurrentDebt.String(),
	}, v.now()))
	if shortfall.IsPositive() {
		v.emit(ctx, newEvent(EventLossRecognized, id, map[string]any{
			"amount": shortfall.String(),
			"source": "rebalance",
		}, v.now()))
		logger.Warnf("vault: %s absorbed loss %s on rebalance", id, shortfall)
	}
	return rec.CurrentDebt, nil
}
