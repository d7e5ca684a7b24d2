package vault

import "errors"

var (
	ErrAlreadyActive         = errors.New("strategy already active")
	ErrNotActive             = errors.New("strategy not active")
	ErrCapacityExceeded      = errors.New("strategy capacity exceeded")
	ErrAssetMismatch         = errors.New("adapter asset does not match pool asset")
	ErrDebtExceedsCeiling    = errors.New("target debt exceeds ceiling")
	ErrLossToleranceExceeded = errors.New("loss tolerance exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrDebtOutstanding       = errors.New("strategy debt outstanding")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidTolerance      = errors.New("loss tolerance out of range")
)
