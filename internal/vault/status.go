package vault

import (
	"context"
	"sync"
	"time"

	"vaultd/internal/logger"
	"vaultd/internal/pkg/circuit"

	"github.com/shopspring/decimal"
)

// PendingReporter is an optional adapter capability: a non-mutating preview
// of the next report. Report itself resets the adapter's since-last-call
// figures, so the view path must never call it.
type PendingReporter interface {
	PendingReport(ctx context.Context) (profit, loss decimal.Decimal, err error)
}

// PendingReport is a non-binding preview of what a strategy would report.
// Unreachable or tripped adapters degrade to zeros so the status surface
// stays available.
type PendingReport struct {
	Strategy  string          `json:"strategy"`
	Profit    decimal.Decimal `json:"profit"`
	Loss      decimal.Decimal `json:"loss"`
	Degraded  bool            `json:"degraded"`
	CheckedAt time.Time       `json:"checked_at"`
}

// StatusProbe polls adapter reports for view-only surfaces. Each adapter gets
// its own breaker; repeated failures stop the polling instead of hammering a
// broken adapter.
type StatusProbe struct {
	vault *Vault

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker

	threshold int
	cooldown  time.Duration
}

func NewStatusProbe(v *Vault) *StatusProbe {
	return &StatusProbe{
		vault:     v,
		breakers:  make(map[string]*circuit.Breaker),
		threshold: 3,
		cooldown:  time.Minute,
	}
}

func (p *StatusProbe) breakerFor(id string) *circuit.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[id]
	if !ok {
		b = circuit.NewBreaker("adapter-report:"+id, p.threshold, p.cooldown)
		p.breakers[id] = b
	}
	return b
}

// Pending previews one strategy's next report without touching accounting.
func (p *StatusProbe) Pending(ctx context.Context, id string) PendingReport {
	out := PendingReport{
		Strategy:  id,
		Profit:    decimal.Zero,
		Loss:      decimal.Zero,
		CheckedAt: time.Now(),
	}

	p.vault.mu.Lock()
	adapter := p.vault.adapters[id]
	p.vault.mu.Unlock()
	previewer, ok := adapter.(PendingReporter)
	if !ok {
		out.Degraded = true
		return out
	}

	b := p.breakerFor(id)
	if !b.Allow() {
		out.Degraded = true
		return out
	}
	profit, loss, err := previewer.PendingReport(ctx)
	if err != nil {
		b.RecordFailure()
		logger.Debugf("status probe: report from %s failed: %v", id, err)
		out.Degraded = true
		return out
	}
	b.RecordSuccess()
	if profit.IsPositive() {
		out.Profit = profit
	}
	if loss.IsPositive() {
		out.Loss = loss
	}
	return out
}

// PendingAll previews every active strategy in withdrawal order.
func (p *StatusProbe) PendingAll(ctx context.Context) []PendingReport {
	ids := p.vault.ActiveStrategies()
	out := make([]PendingReport, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.Pending(ctx, id))
	}
	return out
}
