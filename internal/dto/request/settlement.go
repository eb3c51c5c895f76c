package request

// SettlementReturnRequest is read from the query string of the return URLs.
type SettlementReturnRequest struct {
	SessionRef string `validate:"required,max=255"`
}
