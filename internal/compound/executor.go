package compound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vaultd/internal/logger"

	"github.com/shopspring/decimal"
)

// Router forwards opaque call data to the external swap venue. It is trusted
// to complete or fail as a unit; there is no cancellation of an issued call.
type Router interface {
	Forward(ctx context.Context, callData []byte) error
}

// TokenBalances reads token holdings; used to bracket the router call and
// measure the realized output.
type TokenBalances interface {
	BalanceOf(ctx context.Context, token, holder string) (decimal.Decimal, error)
}

// Executor validates and executes signed compounding payloads. Every failure
// is fatal to the call: there are no retries, and a payload that reaches the
// replay-set insertion is burned whether or not the execution succeeds.
type Executor struct {
	mu sync.Mutex // serializes Execute end to end

	policies  *PolicyRegistry
	router    Router
	tokens    TokenBalances
	replay    ReplaySet
	observers []ExecutionObserver

	now func() time.Time
}

type ExecutorOption func(*Executor)

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(policies *PolicyRegistry, router Router, tokens TokenBalances, replay ReplaySet, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policies: policies,
		router:   router,
		tokens:   tokens,
		replay:   replay,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the full validation pipeline and forwards the payload to the
// router. Returns the realized output amount, measured as the recipient's
// token-out balance delta around the call.
func (e *Executor) Execute(ctx context.Context, caller string, raw []byte, minAmountOut decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trace := ExecutionTrace{
		Caller:       caller,
		MinAmountOut: minAmountOut,
		AmountOut:    decimal.Zero,
		At:           e.now(),
	}
	out, err := e.execute(ctx, caller, raw, minAmountOut, &trace)
	trace.AmountOut = out
	trace.Status = statusForError(err)
	if err != nil {
		trace.Error = err.Error()
	}
	for _, obs := range e.observers {
		obs.AfterExecute(ctx, trace)
	}
	return out, err
}

func (e *Executor) execute(ctx context.Context, caller string, raw []byte, minAmountOut decimal.Decimal, trace *ExecutionTrace) (decimal.Decimal, error) {
	policy := e.policies.Policy()
	if policy == nil {
		return decimal.Zero, ErrPolicyNotConfigured
	}
	if !policy.Authorized(caller) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller)
	}

	payload, err := DecodePayload(raw)
	if err != nil {
		return decimal.Zero, err
	}
	trace.Digest = payload.DigestHex()
	trace.TokenIn = payload.TokenIn
	trace.TokenOut = payload.TokenOut
	trace.AmountIn = payload.AmountIn
	if err := e.validate(payload, policy, minAmountOut); err != nil {
		return decimal.Zero, err
	}

	// Burn the digest before anything leaves the process. A failed execution
	// permanently consumes the payload; callers must obtain a fresh one.
	digest := payload.DigestHex()
	inserted, err := e.replay.MarkUsed(ctx, digest, payload.DeadlineTime())
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay set unavailable: %w", err)
	}
	if !inserted {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAlreadyUsed, digest)
	}

	before, err := e.tokens.BalanceOf(ctx, payload.TokenOut, payload.Recipient)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance read failed: %w", err)
	}
	if err := e.router.Forward(ctx, payload.CallData); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRouterUnavailable, err)
	}
	after, err := e.tokens.BalanceOf(ctx, payload.TokenOut, payload.Recipient)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance read failed: %w", err)
	}

	amountOut := after.Sub(before)
	if amountOut.LessThan(minAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: got %s want >= %s", ErrInsufficientOutput, amountOut, minAmountOut)
	}
	logger.Infof("compound: executed payload %s out=%s %s -> %s", digest[:12], amountOut, payload.TokenIn, payload.TokenOut)
	return amountOut, nil
}

// Validation is the dry-validation result.
type Validation struct {
	Valid        bool            `json:"valid"`
	Reason       string          `json:"reason,omitempty"`
	Digest       string          `json:"digest,omitempty"`
	AmountOutMin decimal.Decimal `json:"amount_out_min"`
}

// DryValidate repeats decode, expiry, slippage and signature checks without
// touching the replay set or issuing any external call.
func (e *Executor) DryValidate(_ context.Context, raw []byte) Validation {
	policy := e.policies.Policy()
	if policy == nil {
		return Validation{Reason: ErrPolicyNotConfigured.Error()}
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		return Validation{Reason: err.Error()}
	}
	// Dry validation uses the payload's own declared floor; a live call
	// substitutes the caller-supplied bound.
	if err := e.validate(payload, policy, payload.AmountOutMin); err != nil {
		return Validation{Reason: err.Error(), Digest: payload.DigestHex(), AmountOutMin: payload.AmountOutMin}
	}
	return Validation{Valid: true, Digest: payload.DigestHex(), AmountOutMin: payload.AmountOutMin}
}

// validate covers expiry, slippage floor, and signature, in that order.
func (e *Executor) validate(payload *SignedPayload, policy *Policy, minAmountOut decimal.Decimal) error {
	now := e.now()
	deadline := payload.DeadlineTime()
	if now.After(deadline) {
		return fmt.Errorf("%w: deadline %s passed", ErrExpired, deadline.UTC().Format(time.RFC3339))
	}
	if deadline.Sub(now) > policy.MaxPayloadAge {
		return fmt.Errorf("%w: deadline %s too far out (max age %s)", ErrExpired, deadline.UTC().Format(time.RFC3339), policy.MaxPayloadAge)
	}

	// The policy floor exists so an authorized caller cannot hand in a
	// deliberately loose bound and bypass slippage protection.
	floor := slippageFloor(payload.AmountIn, policy.MaxSlippageBps)
	if minAmountOut.LessThan(floor) {
		return fmt.Errorf("%w: min %s below floor %s", ErrSlippageTooHigh, minAmountOut, floor)
	}

	if !payload.VerifySignature(policy.SignerKey) {
		return ErrInvalidSignature
	}
	return nil
}

func slippageFloor(amountIn decimal.Decimal, maxSlippageBps int64) decimal.Decimal {
	keepBps := decimal.NewFromInt(10_000 - maxSlippageBps)
	return amountIn.Mul(keepBps).Div(decimal.NewFromInt(10_000))
}
