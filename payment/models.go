package payment

import "fmt"

// Event is the processor's push notification payload. The order id travels in
// the charge metadata attached at charge-creation time.
type Event struct {
	Key  string    `json:"key"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Amount   int64         `json:"amount"`
	Metadata EventMetadata `json:"metadata"`
}

type EventMetadata struct {
	OrderID string `json:"order_id"`
}

const (
	// EventKeyChargeComplete is the only event kind that drives a transition.
	// Everything else is acknowledged and ignored.
	EventKeyChargeComplete = "charge.complete"

	chargeStatusSuccessful = "successful"
)

// Outcome classifies how a delivery was handled. Both Applied and Replay are
// success responses to the processor.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeReplay  Outcome = "replay"
	OutcomeIgnored Outcome = "ignored"
)

// ConflictError reports a payment event that contradicts the ledger: a
// different charge already bound, a mismatched amount, or an unknown order.
// It is not auto-retryable and needs manual operator review.
type ConflictError struct {
	OrderID     string
	EventCharge string
	BoundCharge string
	Reason      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("payment: reconciliation conflict on order %s (event charge %s, bound charge %q): %s",
		e.OrderID, e.EventCharge, e.BoundCharge, e.Reason)
}
