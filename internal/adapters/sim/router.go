package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// TokenLedger is an in-memory token balance book shared by the sim router
// and the executor's balance reads.
type TokenLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal // token|holder
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{balances: make(map[string]decimal.Decimal)}
}

func ledgerKey(token, holder string) string { return token + "|" + holder }

func (l *TokenLedger) BalanceOf(_ context.Context, token, holder string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[ledgerKey(token, holder)]; ok {
		return bal, nil
	}
	return decimal.Zero, nil
}

// Credit adds amount to a holder's balance.
func (l *TokenLedger) Credit(token, holder string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(token, holder)
	l.balances[key] = l.balances[key].Add(amount)
}

// routerInstruction is the call-data shape the sim router understands. Real
// routers receive truly opaque bytes; the sim one needs enough structure to
// know what swap to fake.
type routerInstruction struct {
	TokenOut  string `json:"token_out"`
	Recipient string `json:"recipient"`
	AmountOut string `json:"amount_out"`
}

// Router fakes an external swap venue: it decodes the instruction and
// credits the recipient on the shared token ledger.
type Router struct {
	ledger *TokenLedger

	mu       sync.Mutex
	failNext bool
	calls    int
}

func NewRouter(ledger *TokenLedger) *Router {
	return &Router{ledger: ledger}
}

// EncodeInstruction builds sim call data for signing tooling and tests.
func EncodeInstruction(tokenOut, recipient string, amountOut decimal.Decimal) []byte {
	raw, _ := json.Marshal(routerInstruction{
		TokenOut:  tokenOut,
		Recipient: recipient,
		AmountOut: amountOut.String(),
	})
	return raw
}

func (r *Router) Forward(_ context.Context, callData []byte) error {
	r.mu.Lock()
	fail := r.failNext
	r.failNext = false
	r.calls++
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("sim router: failure injected")
	}

	var inst routerInstruction
	if err := json.Unmarshal(callData, &inst); err != nil {
		return fmt.Errorf("sim router: undecodable call data: %w", err)
	}
	amount, err := decimal.NewFromString(inst.AmountOut)
	if err != nil {
		return fmt.Errorf("sim router: bad amount: %w", err)
	}
	r.ledger.Credit(inst.TokenOut, inst.Recipient, amount)
	return nil
}

// FailNext makes the next Forward call fail.
func (r *Router) FailNext() {
	r.mu.Lock()
	r.failNext = true
	r.mu.Unlock()
}

// Calls reports how many Forward calls were issued.
func (r *Router) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
