// Package sim provides simulated strategy adapters and a simulated swap
// router for paper mode and tests.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var bps = decimal.NewFromInt(10_000)

// Adapter is a configurable in-memory strategy adapter. Yield accrues per
// Report call at YieldBps of the held balance; LiquidityHaircutBps shaves
// every FreeFunds request, modeling adapter-side illiquidity.
type Adapter struct {
	mu sync.Mutex

	id    string
	asset string

	held          decimal.Decimal
	accruedProfit decimal.Decimal
	accruedLoss   decimal.Decimal
	yieldBps      int64
	haircutBps    int64
	failDeploy    bool
	failFree      bool
	failReport    bool
	freeableCap   decimal.Decimal // hard cap on a single FreeFunds return, zero means unlimited
}

type Option func(*Adapter)

// WithYield sets the per-report yield in basis points. Negative values accrue
// loss instead of profit.
func WithYield(yieldBps int64) Option {
	return func(a *Adapter) { a.yieldBps = yieldBps }
}

// WithLiquidityHaircut makes FreeFunds return amount*(1-haircutBps/10000).
func WithLiquidityHaircut(haircutBps int64) Option {
	return func(a *Adapter) { a.haircutBps = haircutBps }
}

// WithFreeableCap caps any single FreeFunds return.
func WithFreeableCap(limit decimal.Decimal) Option {
	return func(a *Adapter) { a.freeableCap = limit }
}

func New(id, asset string, opts ...Option) *Adapter {
	a := &Adapter{
		id:            id,
		asset:         asset,
		held:          decimal.Zero,
		accruedProfit: decimal.Zero,
		accruedLoss:   decimal.Zero,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string            { return a.id }
func (a *Adapter) DeclaredAsset() string { return a.asset }

func (a *Adapter) DeployFunds(_ context.Context, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failDeploy {
		return fmt.Errorf("sim adapter %s: deploy failure injected", a.id)
	}
	if amount.IsNegative() {
		return fmt.Errorf("sim adapter %s: negative deploy %s", a.id, amount)
	}
	a.held = a.held.Add(amount)
	return nil
}

func (a *Adapter) FreeFunds(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFree {
		return decimal.Zero, fmt.Errorf("sim adapter %s: free failure injected", a.id)
	}
	freeable := decimal.Min(amount, a.held)
	if a.haircutBps > 0 {
		keep := bps.Sub(decimal.NewFromInt(a.haircutBps))
		freeable = freeable.Mul(keep).Div(bps)
	}
	if a.freeableCap.IsPositive() && freeable.GreaterThan(a.freeableCap) {
		freeable = a.freeableCap
	}
	a.held = decimal.Max(decimal.Zero, a.held.Sub(freeable))
	return freeable, nil
}

func (a *Adapter) Report(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failReport {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sim adapter %s: report failure injected", a.id)
	}
	profit, loss := a.accrueLocked()
	a.accruedProfit = decimal.Zero
	a.accruedLoss = decimal.Zero
	return profit, loss, nil
}

// PendingReport previews the next report without resetting accruals.
func (a *Adapter) PendingReport(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failReport {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sim adapter %s: report failure injected", a.id)
	}
	profit := a.accruedProfit
	loss := a.accruedLoss
	if a.yieldBps != 0 && a.held.IsPositive() {
		delta := a.held.Mul(decimal.NewFromInt(a.yieldBps)).Div(bps)
		if delta.IsPositive() {
			profit = profit.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
		}
	}
	return profit, loss, nil
}

func (a *Adapter) accrueLocked() (decimal.Decimal, decimal.Decimal) {
	profit := a.accruedProfit
	loss := a.accruedLoss
	if a.yieldBps != 0 && a.held.IsPositive() {
		delta := a.held.Mul(decimal.NewFromInt(a.yieldBps)).Div(bps)
		if delta.IsPositive() {
			profit = profit.Add(delta)
			a.held = a.held.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
			a.held = decimal.Max(decimal.Zero, a.held.Sub(delta.Abs()))
		}
	}
	return profit, loss
}

// InjectProfit queues a one-off profit figure for the next report.
func (a *Adapter) InjectProfit(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accruedProfit = a.accruedProfit.Add(amount)
	a.held = a.held.Add(amount)
}

// InjectLoss queues a one-off loss figure for the next report.
func (a *Adapter) InjectLoss(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accruedLoss = a.accruedLoss.Add(amount)
	a.held = decimal.Max(decimal.Zero, a.held.Sub(amount))
}

// FailNext toggles failure injection per method.
func (a *Adapter) FailNext(deploy, free, report bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failDeploy = deploy
	a.failFree = free
	a.failReport = report
}

// Held reports the adapter-side balance.
func (a *Adapter) Held() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}
