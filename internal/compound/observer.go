package compound

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Execution outcome classes recorded per attempt.
const (
	StatusExecuted = "executed" // router called, output bound met
	StatusRejected = "rejected" // stopped by a validation or replay check
	StatusFailed   = "failed"   // passed validation but the execution leg failed
)

// ExecutionTrace captures one Execute attempt end to end.
type ExecutionTrace struct {
	Caller       string          `json:"caller"`
	Digest       string          `json:"digest,omitempty"`
	TokenIn      string          `json:"token_in,omitempty"`
	TokenOut     string          `json:"token_out,omitempty"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	At           time.Time       `json:"at"`
}

// ExecutionObserver receives a trace after every Execute attempt, success or
// not. Observers must not block; failures are the observer's problem.
type ExecutionObserver interface {
	AfterExecute(ctx context.Context, trace ExecutionTrace)
}

// WithExecutionObserver registers an observer for executed payloads.
func WithExecutionObserver(obs ExecutionObserver) ExecutorOption {
	return func(e *Executor) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

func statusForError(err error) string {
	switch {
	case err == nil:
		return StatusExecuted
	case errors.Is(err, ErrRouterUnavailable), errors.Is(err, ErrInsufficientOutput):
		return StatusFailed
	default:
		return StatusRejected
	}
}
