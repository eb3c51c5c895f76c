package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/utils"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// Stripe only accepts checkout expiry between 30 minutes and 24 hours out.
const (
	minSessionLifetime = 31 * time.Minute
	maxSessionLifetime = 23*time.Hour + 55*time.Minute
)

type StripeGateway struct {
	api      *client.API
	currency string
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewStripeGateway builds a gateway with its own API client. Network retries
// are off; the saga decides what to retry.
func NewStripeGateway(cfg utils.StripeConfig, log *zap.Logger) *StripeGateway {
	return newStripeGateway(cfg, &stripe.BackendConfig{}, log)
}

func newStripeGateway(cfg utils.StripeConfig, backendConfig *stripe.BackendConfig, log *zap.Logger) *StripeGateway {
	if backendConfig.HTTPClient == nil {
		backendConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if backendConfig.MaxNetworkRetries == nil {
		backendConfig.MaxNetworkRetries = stripe.Int64(0)
	}
	if backendConfig.LeveledLogger == nil {
		backendConfig.LeveledLogger = &stripe.LeveledLogger{Level: stripe.LevelError}
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	return &StripeGateway{
		api:      client.New(cfg.SecretKey, backends),
		currency: cfg.Currency,
		timeout:  cfg.Timeout,
		now:      time.Now,
		log:      log.With(zap.String("gateway", "stripe")),
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	expiresAt := g.clampExpiry(req.ExpiresAt)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_reference", req.Reference)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("Failed to create checkout session",
			zap.Error(err),
			zap.String("reference", req.Reference),
		)
		return nil, fmt.Errorf("%w: create checkout session for %s: %v", entity.ErrGatewayUnavailable, req.Reference, err)
	}

	return &CheckoutSession{
		SessionRef:  session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// ExpireCheckoutSession closes an open session so it can no longer be paid.
// Expiring an already expired session is not an error.
func (g *StripeGateway) ExpireCheckoutSession(ctx context.Context, sessionRef string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	_, err := g.api.CheckoutSessions.Expire(sessionRef, params)
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.HTTPStatusCode != http.StatusBadRequest {
		g.log.Warn("Failed to expire checkout session",
			zap.Error(err),
			zap.String("session_ref", sessionRef),
		)
		return fmt.Errorf("%w: expire checkout session %s: %v", entity.ErrGatewayUnavailable, sessionRef, err)
	}

	// The session is no longer open; look at how it ended.
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	session, getErr := g.api.CheckoutSessions.Get(sessionRef, getParams)
	if getErr != nil {
		return fmt.Errorf("%w: inspect checkout session %s: %v", entity.ErrGatewayUnavailable, sessionRef, getErr)
	}

	switch session.Status {
	case stripe.CheckoutSessionStatusComplete:
		return fmt.Errorf("checkout session %s: %w", sessionRef, ErrSessionCompleted)
	case stripe.CheckoutSessionStatusExpired:
		return nil
	default:
		return fmt.Errorf("%w: expire checkout session %s: %v", entity.ErrGatewayUnavailable, sessionRef, err)
	}
}

func (g *StripeGateway) clampExpiry(requested time.Time) time.Time {
	now := g.now()
	switch {
	case requested.Before(now.Add(minSessionLifetime)):
		return now.Add(minSessionLifetime)
	case requested.After(now.Add(maxSessionLifetime)):
		return now.Add(maxSessionLifetime)
	default:
		return requested
	}
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
