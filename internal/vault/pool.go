package vault

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// LedgerPool is an in-memory CapitalPool backed by a per-holder balance map.
// It backs paper mode and tests; a production deployment swaps in a pool
// bound to a real asset ledger.
type LedgerPool struct {
	mu       sync.Mutex
	asset    string
	idle     decimal.Decimal
	balances map[string]decimal.Decimal
}

func NewLedgerPool(asset string, initialIdle decimal.Decimal) *LedgerPool {
	if initialIdle.IsNegative() {
		initialIdle = decimal.Zero
	}
	return &LedgerPool{
		asset:    asset,
		idle:     initialIdle,
		balances: make(map[string]decimal.Decimal),
	}
}

func (p *LedgerPool) Asset() string { return p.asset }

func (p *LedgerPool) IdleBalance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

// TransferOut moves amount from the idle pool to recipient's ledger entry.
func (p *LedgerPool) TransferOut(recipient string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative transfer %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.idle) {
		return fmt.Errorf("transfer %s exceeds idle balance %s", amount, p.idle)
	}
	p.idle = p.idle.Sub(amount)
	p.balances[recipient] = p.balanceLocked(recipient).Add(amount)
	return nil
}

// TransferIn moves amount from a holder's ledger entry back into the idle
// pool. Holders unknown to the ledger are treated as external depositors
// with unbounded balance.
func (p *LedgerPool) TransferIn(from string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative transfer %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if bal, ok := p.balances[from]; ok {
		p.balances[from] = decimal.Max(decimal.Zero, bal.Sub(amount))
	}
	p.idle = p.idle.Add(amount)
	return nil
}

// Deposit credits the idle pool directly.
func (p *LedgerPool) Deposit(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	p.mu.Lock()
	p.idle = p.idle.Add(amount)
	p.mu.Unlock()
}

// BalanceOf reports a holder's ledger entry.
func (p *LedgerPool) BalanceOf(holder string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceLocked(holder)
}

func (p *LedgerPool) balanceLocked(holder string) decimal.Decimal {
	if bal, ok := p.balances[holder]; ok {
		return bal
	}
	return decimal.Zero
}
