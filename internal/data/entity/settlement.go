package entity

type SettlementOutcome string

const (
	OutcomeConfirmed                    SettlementOutcome = "confirmed"
	OutcomeConfirmedProvisioningPending SettlementOutcome = "confirmed_provisioning_pending"
	OutcomeCancelled                    SettlementOutcome = "cancelled"
	OutcomeAlreadySettled               SettlementOutcome = "already_settled"
	OutcomeStaleOrUnknownSession        SettlementOutcome = "stale_or_unknown_session"
	OutcomeSkipped                      SettlementOutcome = "skipped"
	// A payment was captured for a booking that had already been cancelled.
	// The booking stays cancelled and is flagged for a refund.
	OutcomeRefundRequired SettlementOutcome = "refund_required"
)

// SettlementResult is what a return leg, an expiry or an operator action
// did to a booking. Booking is nil only for stale or unknown sessions.
type SettlementResult struct {
	Outcome SettlementOutcome
	Booking *Booking
	Message string
}

type SweepReport struct {
	Examined  int `json:"examined"`
	Cancelled int `json:"cancelled"`
	Confirmed int `json:"confirmed"`
	Skipped   int `json:"skipped"`
	Refunds   int `json:"refunds"`
	Failed    int `json:"failed"`
}
