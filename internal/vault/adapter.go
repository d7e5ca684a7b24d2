package vault

import (
	"context"

	"github.com/shopspring/decimal"
)

// StrategyAdapter is the capability contract every pluggable yield strategy
// must satisfy. The vault never assumes more than these four methods and
// treats every call as potentially reentrant or failing.
type StrategyAdapter interface {
	// ID identifies the adapter instance; used as the registry key.
	ID() string

	// DeclaredAsset reports the underlying asset the adapter operates on.
	// Checked against the pool asset at registration.
	DeclaredAsset() string

	// DeployFunds accepts a transfer of amount and begins deploying it.
	// Failure is fatal to the enclosing allocation.
	DeployFunds(ctx context.Context, amount decimal.Decimal) error

	// FreeFunds attempts to return up to amount back to the pool and
	// reports the amount actually freed, which may be less than requested.
	// Partial fulfillment is not an error.
	FreeFunds(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)

	// Report returns self-reported profit and loss since the last call.
	// Both values are non-negative; the vault applies them independently
	// and never trusts them beyond aggregate floor guards.
	Report(ctx context.Context) (profit, loss decimal.Decimal, err error)
}

// CapitalPool is the proportional-share ledger the vault allocates from.
// Share mint/burn accounting lives behind it and is not modeled here.
type CapitalPool interface {
	Asset() string
	IdleBalance() decimal.Decimal
	TransferOut(recipient string, amount decimal.Decimal) error
	TransferIn(from string, amount decimal.Decimal) error
}
