package vault

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Satisfy pulls capital from strategies, in withdrawal order, until required
// is covered. Each adapter is asked for at most its current debt; whatever it
// actually frees reduces debt and the remaining need, with every counter
// clamped at zero. Iteration stops as soon as the requirement is met.
//
// Returns the amount actually freed back into the pool. If that is short of
// required, the enclosing withdrawal must fail; this engine never synthesizes
// unavailable liquidity. An adapter error aborts the cascade, with pulls
// already completed left in place.
func (v *Vault) Satisfy(ctx context.Context, required decimal.Decimal) (decimal.Decimal, error) {
	if required.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: required %s", ErrInvalidAmount, required)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.satisfyLocked(ctx, required)
}

func (v *Vault) satisfyLocked(ctx context.Context, required decimal.Decimal) (decimal.Decimal, error) {
	remaining := required
	pulled := decimal.Zero

	for _, id := range v.order {
		if !remaining.IsPositive() {
			break
		}
		rec := v.records[id]
		if rec == nil || !rec.Active || !rec.CurrentDebt.IsPositive() {
			continue
		}
		adapter := v.adapters[id]
		if adapter == nil {
			continue
		}

		toPull := decimal.Min(remaining, rec.CurrentDebt)
		freed, err := adapter.FreeFunds(ctx, toPull)
		if err != nil {
			// Earlier pulls are completed sub-transfers and stand; the
			// cascade itself stops here.
			return pulled, fmt.Errorf("cascade free from %s failed: %w", id, err)
		}
		if freed.IsNegative() {
			freed = decimal.Zero
		}
		if freed.GreaterThan(toPull) {
			freed = toPull
		}
		if !freed.IsPositive() {
			continue
		}
		if err := v.pool.TransferIn(id, freed); err != nil {
			return pulled, fmt.Errorf("transfer from %s failed: %w", id, err)
		}

		rec.CurrentDebt = decimal.Max(decimal.Zero, rec.CurrentDebt.Sub(freed))
		v.totalDebt = decimal.Max(decimal.Zero, v.totalDebt.Sub(freed))
		remaining = decimal.Max(decimal.Zero, remaining.Sub(freed))
		pulled = pulled.Add(freed)
		v.persistRecord(ctx, id)
	}

	return pulled, nil
}

// Withdraw sends amount to recipient, raiding strategies when the idle
// balance cannot cover it. Fails with ErrInsufficientLiquidity when the
// cascade exhausts every strategy and the requirement is still unmet.
func (v *Vault) Withdraw(ctx context.Context, recipient string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	idle := v.pool.IdleBalance()
	if amount.GreaterThan(idle) {
		needed := amount.Sub(idle)
		if _, err := v.satisfyLocked(ctx, needed); err != nil {
			return err
		}
		if amount.GreaterThan(v.pool.IdleBalance()) {
			return fmt.Errorf("%w: short %s", ErrInsufficientLiquidity, amount.Sub(v.pool.IdleBalance()))
		}
	}
	if err := v.pool.TransferOut(recipient, amount); err != nil {
		return err
	}
	v.emit(ctx, newEvent(EventWithdrawal, "", map[string]any{
		"recipient": recipient,
		"amount":    amount.String(),
	}, v.now()))
	return nil
}
