package dispute

import (
	"context"
	"errors"

	"escrowflow/order"
	"escrowflow/payout"
	"escrowflow/profile"
)

// Orders is the slice of the order service the arbitration desk needs.
type Orders interface {
	Get(ctx context.Context, actor order.Actor, orderID string) (order.Order, error)
	ListAll(ctx context.Context, actor order.Actor) ([]order.Order, error)
	ResolveDispute(ctx context.Context, actor order.Actor, orderID string, ruling order.Ruling) (order.Order, error)
	Override(ctx context.Context, actor order.Actor, orderID string, target order.Status, reason string) (order.Order, error)
	ConfirmRefund(ctx context.Context, actor order.Actor, orderID string) (order.Order, error)
}

// Profiles reads seller payout identities for the case view.
type Profiles interface {
	Get(ctx context.Context, userID string) (profile.SellerProfile, error)
}

// Service composes the arbiter's case view and forwards rulings to the order
// machine. It holds no state of its own; the order row is the dispute record.
type Service struct {
	orders   Orders
	profiles Profiles
	fees     *payout.Calculator
}

func NewService(orders Orders, profiles Profiles, fees *payout.Calculator) *Service {
	return &Service{orders: orders, profiles: profiles, fees: fees}
}

// ListOpen returns the orders currently frozen in DISPUTE, oldest first as
// delivered by the ledger. Arbiters only.
func (s *Service) ListOpen(ctx context.Context, actor order.Actor) ([]order.Order, error) {
	all, err := s.orders.ListAll(ctx, actor)
	if err != nil {
		return nil, err
	}
	open := make([]order.Order, 0, len(all))
	for _, ord := range all {
		if ord.Status == order.StatusDispute {
			open = append(open, ord)
		}
	}
	return open, nil
}

// Bundle assembles the full case file for one order: frozen evidence, the
// advisory fee split, and the seller's payout identity. A seller without a
// profile row yields an empty identity rather than an error, so a case is
// always presentable.
func (s *Service) Bundle(ctx context.Context, actor order.Actor, orderID string) (EvidenceBundle, error) {
	if !actor.Arbiter {
		return EvidenceBundle{}, &order.ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: "review_case", Requires: "the arbiter role"}
	}

	ord, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return EvidenceBundle{}, err
	}

	split, err := s.fees.Calculate(ord.Amount)
	if err != nil {
		return EvidenceBundle{}, err
	}

	seller, err := s.profiles.Get(ctx, ord.SellerID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return EvidenceBundle{}, err
	}

	return EvidenceBundle{
		Order:  ord,
		Payout: split,
		Seller: seller,
		// Release needs complete bank details and a cleared identity gate.
		SellerPayoutReady: seller.PayoutReady() && seller.KYCStatus == profile.KYCVerified,
	}, nil
}

// Resolve executes the arbiter's ruling on a disputed order.
func (s *Service) Resolve(ctx context.Context, actor order.Actor, orderID string, ruling order.Ruling) (order.Order, error) {
	return s.orders.ResolveDispute(ctx, actor, orderID, ruling)
}

// Override forces a terminal state outside a formal dispute.
func (s *Service) Override(ctx context.Context, actor order.Actor, orderID string, target order.Status, reason string) (order.Order, error) {
	return s.orders.Override(ctx, actor, orderID, target, reason)
}

// ConfirmRefund records that the manual refund was executed.
func (s *Service) ConfirmRefund(ctx context.Context, actor order.Actor, orderID string) (order.Order, error) {
	return s.orders.ConfirmRefund(ctx, actor, orderID)
}
