package order

import (
	"context"
	"strings"
	"time"
)

// Ledger is the single component allowed to mutate order rows. Every status
// write goes through a compare-and-swap on (order id, expected status) so
// concurrent transitions against the same order serialize; the loser of a
// race gets an InvalidTransitionError, never a silent no-op.
type Ledger interface {
	Create(ctx context.Context, params CreateParams) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	ListForUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)

	MarkShipped(ctx context.Context, params ShipParams) (Order, error)
	MarkDisputed(ctx context.Context, params DisputeParams) (Order, error)
	Finalize(ctx context.Context, params FinalizeParams) (Order, error)
	ConfirmRefund(ctx context.Context, orderID, arbiterID string) (Order, error)
}

// CreateParams starts a new escrow order for a listed product. Amount is
// copied from the product at creation time.
type CreateParams struct {
	BuyerID   string
	ProductID string
}

// ShipParams attaches the seller's shipping evidence while moving PAID to
// SHIPPED. The evidence set is written together and never updated again.
type ShipParams struct {
	OrderID  string
	SellerID string
	Evidence ShippingEvidence
}

// DisputeParams attaches the buyer's counter-evidence while moving SHIPPED to
// DISPUTE.
type DisputeParams struct {
	OrderID  string
	BuyerID  string
	Evidence DisputeEvidence
}

// FinalizeParams drives an order into a terminal state. From pins the
// compare-and-swap source; Target must be COMPLETED or REFUNDED. Entering
// COMPLETED marks the product sold inside the same transaction.
type FinalizeParams struct {
	OrderID        string
	From           Status
	Target         Status
	Action         Action
	ActorID        string
	EventType      string
	Topic          string
	Ruling         *Ruling
	OverrideReason *string
	EventPayload   map[string]any
}

// ShipmentInput is the seller-supplied evidence for the ship action.
type ShipmentInput struct {
	TrackingCode string
	Condition    string
	DefectNote   string
	ImageRef     string
	VideoRef     string
}

// DisputeInput is the buyer-supplied evidence for the raise-dispute action.
type DisputeInput struct {
	Reason     string
	ReceivedAt time.Time
	ImageRef   string
	VideoRef   string
}

// Service enforces the transition guards of the escrow state machine. All
// role and field checks run before any write.
type Service struct {
	ledger Ledger
}

func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// Create opens a WAITING_PAYMENT order for the buyer. The ledger enforces
// that the product is still available and not the buyer's own listing.
func (s *Service) Create(ctx context.Context, buyerID, productID string) (Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return Order{}, &ValidationError{Field: "buyer_id", Reason: "required"}
	}
	if strings.TrimSpace(productID) == "" {
		return Order{}, &ValidationError{Field: "product_id", Reason: "required"}
	}
	return s.ledger.Create(ctx, CreateParams{BuyerID: buyerID, ProductID: productID})
}

// Get returns the order if the caller is a party to it or an arbiter.
func (s *Service) Get(ctx context.Context, actor Actor, orderID string) (Order, error) {
	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.Arbiter && actor.ID != ord.BuyerID && actor.ID != ord.SellerID {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: "view", Requires: "a party to the order or an arbiter"}
	}
	return ord, nil
}

// ListForUser returns the orders where the user is buyer or seller.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.ledger.ListForUser(ctx, userID)
}

// ListAll returns every order; arbiters only.
func (s *Service) ListAll(ctx context.Context, actor Actor) ([]Order, error) {
	if !actor.Arbiter {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "list_all", Requires: "the arbiter role"}
	}
	return s.ledger.ListAll(ctx)
}

// Ship records shipping evidence and moves the order to SHIPPED. Only the
// order's seller may ship, and only from PAID.
func (s *Service) Ship(ctx context.Context, actor Actor, orderID string, input ShipmentInput) (Order, error) {
	if strings.TrimSpace(input.TrackingCode) == "" {
		return Order{}, &ValidationError{Field: "tracking_code", Reason: "required"}
	}

	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.ID != ord.SellerID {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: ActionShip, Requires: "the order's seller"}
	}
	if !CanTransition(ord.Status, ActionShip, StatusShipped) {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: ord.Status, Action: ActionShip, Allowed: AllowedNext(ord.Status)}
	}

	return s.ledger.MarkShipped(ctx, ShipParams{
		OrderID:  orderID,
		SellerID: actor.ID,
		Evidence: ShippingEvidence{
			TrackingCode: strings.TrimSpace(input.TrackingCode),
			Condition:    optional(input.Condition),
			DefectNote:   optional(input.DefectNote),
			ImageRef:     optional(input.ImageRef),
			VideoRef:     optional(input.VideoRef),
		},
	})
}

// Accept closes the happy path: the buyer confirms receipt and the order
// completes, marking the product sold in the same transaction.
func (s *Service) Accept(ctx context.Context, actor Actor, orderID string) (Order, error) {
	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.ID != ord.BuyerID {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: ActionAccept, Requires: "the order's buyer"}
	}
	if !CanTransition(ord.Status, ActionAccept, StatusCompleted) {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: ord.Status, Action: ActionAccept, Allowed: AllowedNext(ord.Status)}
	}

	return s.ledger.Finalize(ctx, FinalizeParams{
		OrderID:   orderID,
		From:      StatusShipped,
		Target:    StatusCompleted,
		Action:    ActionAccept,
		ActorID:   actor.ID,
		EventType: EventOrderAccepted,
		Topic:     TopicOrderCompleted,
	})
}

// RaiseDispute freezes the order in DISPUTE with the buyer's evidence.
func (s *Service) RaiseDispute(ctx context.Context, actor Actor, orderID string, input DisputeInput) (Order, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return Order{}, &ValidationError{Field: "reason", Reason: "required"}
	}
	if input.ReceivedAt.IsZero() {
		return Order{}, &ValidationError{Field: "received_at", Reason: "required"}
	}

	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.ID != ord.BuyerID {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: ActionRaiseDispute, Requires: "the order's buyer"}
	}
	if !CanTransition(ord.Status, ActionRaiseDispute, StatusDispute) {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: ord.Status, Action: ActionRaiseDispute, Allowed: AllowedNext(ord.Status)}
	}

	return s.ledger.MarkDisputed(ctx, DisputeParams{
		OrderID: orderID,
		BuyerID: actor.ID,
		Evidence: DisputeEvidence{
			Reason:     strings.TrimSpace(input.Reason),
			ReceivedAt: input.ReceivedAt,
			ImageRef:   optional(input.ImageRef),
			VideoRef:   optional(input.VideoRef),
		},
	})
}

// ResolveDispute executes an arbiter's ruling on a DISPUTE order. The ruling
// is irreversible; the evidence available at ruling time is captured in the
// audit payload.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, orderID string, ruling Ruling) (Order, error) {
	if !actor.Arbiter {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: ActionResolveDispute, Requires: "the arbiter role"}
	}
	if ruling != RulingSellerWins && ruling != RulingBuyerWins {
		return Order{}, &ValidationError{Field: "ruling", Reason: "must be seller_wins or buyer_wins"}
	}

	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	target := StatusCompleted
	topic := TopicOrderCompleted
	if ruling == RulingBuyerWins {
		target = StatusRefunded
		topic = TopicOrderRefunded
	}
	if !CanTransition(ord.Status, ActionResolveDispute, target) {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: ord.Status, Action: ActionResolveDispute, Allowed: AllowedNext(ord.Status)}
	}

	r := ruling
	return s.ledger.Finalize(ctx, FinalizeParams{
		OrderID:      orderID,
		From:         StatusDispute,
		Target:       target,
		Action:       ActionResolveDispute,
		ActorID:      actor.ID,
		EventType:    EventDisputeResolved,
		Topic:        topic,
		Ruling:       &r,
		EventPayload: evidenceSnapshot(ord),
	})
}

// Override is the emergency arbiter path: force COMPLETED or REFUNDED from
// PAID or SHIPPED without a formal dispute. It is recorded under its own
// audit event type and requires a reason.
func (s *Service) Override(ctx context.Context, actor Actor, orderID string, target Status, reason string) (Order, error) {
	if !actor.Arbiter {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: ActionOverride, Requires: "the arbiter role"}
	}
	if target != StatusCompleted && target != StatusRefunded {
		return Order{}, &ValidationError{Field: "target", Reason: "must be COMPLETED or REFUNDED"}
	}
	if strings.TrimSpace(reason) == "" {
		return Order{}, &ValidationError{Field: "reason", Reason: "required for an override"}
	}

	ord, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(ord.Status, ActionOverride, target) {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: ord.Status, Action: ActionOverride, Allowed: AllowedNext(ord.Status)}
	}

	topic := TopicOrderCompleted
	if target == StatusRefunded {
		topic = TopicOrderRefunded
	}
	note := strings.TrimSpace(reason)
	return s.ledger.Finalize(ctx, FinalizeParams{
		OrderID:        orderID,
		From:           ord.Status,
		Target:         target,
		Action:         ActionOverride,
		ActorID:        actor.ID,
		EventType:      EventArbiterOverride,
		Topic:          topic,
		OverrideReason: &note,
	})
}

// ConfirmRefund records the operator acknowledgement that the refund was
// executed against the payment processor. Allowed once, on REFUNDED orders
// only.
func (s *Service) ConfirmRefund(ctx context.Context, actor Actor, orderID string) (Order, error) {
	if !actor.Arbiter {
		return Order{}, &ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: "confirm_refund", Requires: "the arbiter role"}
	}
	return s.ledger.ConfirmRefund(ctx, orderID, actor.ID)
}

// evidenceSnapshot freezes both parties' evidence into the ruling's audit
// payload so the rationale of a past ruling is reconstructable.
func evidenceSnapshot(ord Order) map[string]any {
	snap := map[string]any{
		"amount":     ord.Amount,
		"charge_ref": deref(ord.ChargeRef),
	}
	if ord.Shipping != nil {
		snap["shipping_evidence"] = map[string]any{
			"tracking_code": ord.Shipping.TrackingCode,
			"condition":     deref(ord.Shipping.Condition),
			"defect_note":   deref(ord.Shipping.DefectNote),
			"image_ref":     deref(ord.Shipping.ImageRef),
			"video_ref":     deref(ord.Shipping.VideoRef),
		}
	}
	if ord.Dispute != nil {
		snap["dispute_evidence"] = map[string]any{
			"reason":      ord.Dispute.Reason,
			"received_at": ord.Dispute.ReceivedAt.UTC(),
			"image_ref":   deref(ord.Dispute.ImageRef),
			"video_ref":   deref(ord.Dispute.VideoRef),
		}
	}
	return snap
}

func optional(s string) *string {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
