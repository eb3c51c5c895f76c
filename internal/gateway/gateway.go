package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrSessionCompleted is returned when expiring a session the customer has
// already paid for. The caller must settle it as a success.
var ErrSessionCompleted = errors.New("checkout session already completed")

// SessionRefPlaceholder is substituted by the processor with the session id
// when it redirects the customer back.
const SessionRefPlaceholder = "{CHECKOUT_SESSION_ID}"

type CheckoutRequest struct {
	Reference   string
	Amount      float64
	Description string
	SuccessURL  string
	CancelURL   string
	ExpiresAt   time.Time
}

type CheckoutSession struct {
	SessionRef  string
	RedirectURL string
	ExpiresAt   time.Time
}

// CheckoutGateway hands the customer to a hosted payment page.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionRef string) error
}
