package entity

import "errors"

var (
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrProvisioningFailed    = errors.New("provisioning failed")
	ErrStaleOrUnknownSession = errors.New("stale or unknown payment session")
	ErrForbidden             = errors.New("forbidden")
	ErrValidation            = errors.New("validation failed")
)
