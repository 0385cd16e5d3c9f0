package order

import "time"

// Ruling is an arbiter's binary decision on a disputed order.
type Ruling string

const (
	RulingSellerWins Ruling = "seller_wins"
	RulingBuyerWins  Ruling = "buyer_wins"
)

// Actor identifies the caller of a guarded transition. Identity comes from
// the session collaborator; the service trusts it as already authenticated.
type Actor struct {
	ID      string
	Arbiter bool
}

// ShippingEvidence is captured in full by the seller's ship action and is
// immutable afterwards.
type ShippingEvidence struct {
	TrackingCode string
	Condition    *string
	DefectNote   *string
	ImageRef     *string
	VideoRef     *string
}

// DisputeEvidence is captured in full by the buyer's dispute action and is
// immutable afterwards.
type DisputeEvidence struct {
	Reason     string
	ReceivedAt time.Time
	ImageRef   *string
	VideoRef   *string
}

// Order mirrors the orders table. Amount is in the currency's minor unit and
// is fixed at creation. ChargeRef is write-once: binding a different value is
// an invariant violation surfaced as a reconciliation conflict.
type Order struct {
	ID        string
	BuyerID   string
	SellerID  string
	ProductID string
	Amount    int64
	Status    Status
	ChargeRef *string

	Shipping *ShippingEvidence
	Dispute  *DisputeEvidence

	Ruling            *Ruling
	OverrideReason    *string
	RefundConfirmedBy *string
	RefundConfirmedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Audit event types appended to order_events on every transition.
const (
	EventOrderCreated     = "ORDER_CREATED"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
	EventOrderShipped     = "ORDER_SHIPPED"
	EventOrderAccepted    = "ORDER_ACCEPTED"
	EventDisputeOpened    = "DISPUTE_OPENED"
	EventDisputeResolved  = "DISPUTE_RESOLVED"
	EventArbiterOverride  = "ARBITER_OVERRIDE"
	EventRefundConfirmed  = "REFUND_CONFIRMED"
)

// Outbox topics emitted alongside the matching transition.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderPaid       = "order.paid"
	TopicOrderShipped    = "order.shipped"
	TopicOrderDisputed   = "order.disputed"
	TopicOrderCompleted  = "order.completed"
	TopicOrderRefunded   = "order.refunded"
	TopicRefundConfirmed = "order.refund_confirmed"
)
