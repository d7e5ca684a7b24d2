package vault

import (
	"context"
	"fmt"
	"time"

	"vaultd/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconcile pulls a self-reported profit/loss figure from the adapter and
// folds it into aggregate accounting. No tokens move here.
//
// Profit raises only the aggregate: the contributing record's CurrentDebt is
// left as-is, since the gain is assumed already sitting in the adapter's
// balance and will be picked up by the next explicit rebalance. Loss reduces
// both the aggregate and the record, each floored at zero. Adapters are
// expected to report one-sided figures but the engine applies both
// independently.
func (v *Vault) Reconcile(ctx context.Context, id string) (ReportRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[id]
	if !ok || !rec.Active {
		return ReportRecord{}, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	adapter, ok := v.adapters[id]
	if !ok {
		return ReportRecord{}, fmt.Errorf("%w: %s has no bound adapter", ErrNotActive, id)
	}

	profit, loss, err := adapter.Report(ctx)
	if err != nil {
		return ReportRecord{}, fmt.Errorf("report from %s failed: %w", id, err)
	}
	if profit.IsNegative() {
		profit = decimal.Zero
	}
	if loss.IsNegative() {
		loss = decimal.Zero
	}

	now := v.now()
	rec.LastReport = now

	if profit.IsPositive() {
		v.totalDebt = v.totalDebt.Add(profit)
	}
	if loss.IsPositive() {
		v.totalDebt = decimal.Max(decimal.Zero, v.totalDebt.Sub(loss))
		rec.CurrentDebt = decimal.Max(decimal.Zero, rec.CurrentDebt.Sub(loss))
	}

	report := ReportRecord{
		TraceID:     uuid.NewString(),
		Strategy:    id,
		Profit:      profit,
		Loss:        loss,
		CurrentDebt: rec.CurrentDebt,
		At:          now,
	}

	v.persistRecord(ctx, id)
	if v.sink != nil {
		if err := v.sink.RecordReport(ctx, report); err != nil {
			logger.Warnf("vault: persist report for %s failed: %v", id, err)
		}
	}
	v.emit(ctx, newEvent(EventReport, id, map[string]any{
		"profit":       profit.String(),
		"loss":         loss.String(),
		"current_debt": rec.CurrentDebt.String(),
	}, now))
	logger.Infof("vault: reconciled %s profit=%s loss=%s debt=%s", id, profit, loss, rec.CurrentDebt)
	return report, nil
}

// LastReportAge reports how long ago a strategy last reconciled. Zero time
// means never.
func (v *Vault) LastReportAge(id string) (time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[id]
	if !ok {
		return 0, false
	}
	if rec.LastReport.IsZero() {
		return 0, true
	}
	return v.now().Sub(rec.LastReport), true
}
