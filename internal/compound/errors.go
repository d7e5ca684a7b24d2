package compound

import "errors"

var (
	ErrUnauthorizedCaller  = errors.New("caller not authorized")
	ErrExpired             = errors.New("payload expired or deadline too far out")
	ErrSlippageTooHigh     = errors.New("min output below slippage floor")
	ErrInvalidSignature    = errors.New("payload signature invalid")
	ErrAlreadyUsed         = errors.New("payload already executed")
	ErrInsufficientOutput  = errors.New("realized output below minimum")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrRouterUnavailable   = errors.New("router unavailable")
	ErrPolicyNotConfigured = errors.New("executor policy not configured")
)
