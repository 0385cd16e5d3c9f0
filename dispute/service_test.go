package dispute

import (
	"context"
	"testing"
	"time"

	"escrowflow/order"
	"escrowflow/payout"
	"escrowflow/profile"
)

type fakeOrders struct {
	orders map[string]order.Order
}

func (f *fakeOrders) Get(ctx context.Context, actor order.Actor, orderID string) (order.Order, error) {
	ord, ok := f.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return ord, nil
}

func (f *fakeOrders) ListAll(ctx context.Context, actor order.Actor) ([]order.Order, error) {
	if !actor.Arbiter {
		return nil, &order.ForbiddenError{ActorID: actor.ID, Action: "list_all", Requires: "the arbiter role"}
	}
	out := make([]order.Order, 0, len(f.orders))
	for _, ord := range f.orders {
		out = append(out, ord)
	}
	return out, nil
}

func (f *fakeOrders) ResolveDispute(ctx context.Context, actor order.Actor, orderID string, ruling order.Ruling) (order.Order, error) {
	ord := f.orders[orderID]
	if ruling == order.RulingBuyerWins {
		ord.Status = order.StatusRefunded
	} else {
		ord.Status = order.StatusCompleted
	}
	ord.Ruling = &ruling
	f.orders[orderID] = ord
	return ord, nil
}

func (f *fakeOrders) Override(ctx context.Context, actor order.Actor, orderID string, target order.Status, reason string) (order.Order, error) {
	ord := f.orders[orderID]
	ord.Status = target
	ord.OverrideReason = &reason
	f.orders[orderID] = ord
	return ord, nil
}

func (f *fakeOrders) ConfirmRefund(ctx context.Context, actor order.Actor, orderID string) (order.Order, error) {
	ord := f.orders[orderID]
	ord.RefundConfirmedBy = &actor.ID
	f.orders[orderID] = ord
	return ord, nil
}

type fakeProfiles struct {
	profiles map[string]profile.SellerProfile
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (profile.SellerProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return profile.SellerProfile{}, profile.ErrNotFound
	}
	return p, nil
}

func newService(t *testing.T, orders *fakeOrders, profiles *fakeProfiles) *Service {
	t.Helper()
	fees, err := payout.NewCalculator(5)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	return NewService(orders, profiles, fees)
}

func disputedOrder(id string) order.Order {
	reason := "item arrived damaged"
	return order.Order{
		ID:        id,
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		ProductID: "prod-1",
		Amount:    1000,
		Status:    order.StatusDispute,
		Shipping:  &order.ShippingEvidence{TrackingCode: "TRK1"},
		Dispute:   &order.DisputeEvidence{Reason: reason, ReceivedAt: time.Now()},
	}
}

func TestBundle(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{"ord-1": disputedOrder("ord-1")}}
	profiles := &fakeProfiles{profiles: map[string]profile.SellerProfile{
		"seller-1": {
			UserID:            "seller-1",
			BankName:          "KBANK",
			BankAccountNumber: "123-4-56789-0",
			BankAccountName:   "Somchai J.",
			KYCStatus:         profile.KYCVerified,
		},
	}}
	svc := newService(t, orders, profiles)

	bundle, err := svc.Bundle(context.Background(), order.Actor{ID: "arb-1", Arbiter: true}, "ord-1")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if bundle.Payout.Fee != 50 || bundle.Payout.Net != 950 {
		t.Fatalf("expected 50/950 split, got %d/%d", bundle.Payout.Fee, bundle.Payout.Net)
	}
	if !bundle.SellerPayoutReady {
		t.Fatal("complete bank details must mark the seller payout ready")
	}
	if bundle.Order.Dispute == nil || bundle.Order.Shipping == nil {
		t.Fatal("bundle must carry both parties' evidence")
	}
}

func TestBundleUnverifiedSellerNotPayoutReady(t *testing.T) {
	for _, status := range []profile.KYCStatus{profile.KYCPending, profile.KYCRejected} {
		orders := &fakeOrders{orders: map[string]order.Order{"ord-1": disputedOrder("ord-1")}}
		profiles := &fakeProfiles{profiles: map[string]profile.SellerProfile{
			"seller-1": {
				UserID:            "seller-1",
				BankName:          "KBANK",
				BankAccountNumber: "123-4-56789-0",
				BankAccountName:   "Somchai J.",
				KYCStatus:         status,
			},
		}}
		svc := newService(t, orders, profiles)

		bundle, err := svc.Bundle(context.Background(), order.Actor{ID: "arb-1", Arbiter: true}, "ord-1")
		if err != nil {
			t.Fatalf("bundle (%s): %v", status, err)
		}
		if bundle.SellerPayoutReady {
			t.Fatalf("complete bank details with KYC %s must not mark the seller payout ready", status)
		}
	}
}

func TestBundleRequiresArbiter(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{"ord-1": disputedOrder("ord-1")}}
	svc := newService(t, orders, &fakeProfiles{})

	_, err := svc.Bundle(context.Background(), order.Actor{ID: "buyer-1"}, "ord-1")
	if !order.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBundleMissingProfile(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{"ord-1": disputedOrder("ord-1")}}
	svc := newService(t, orders, &fakeProfiles{})

	bundle, err := svc.Bundle(context.Background(), order.Actor{ID: "arb-1", Arbiter: true}, "ord-1")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if bundle.SellerPayoutReady {
		t.Fatal("a seller with no profile must not be payout ready")
	}
}

func TestListOpen(t *testing.T) {
	shipped := disputedOrder("ord-2")
	shipped.Status = order.StatusShipped
	orders := &fakeOrders{orders: map[string]order.Order{
		"ord-1": disputedOrder("ord-1"),
		"ord-2": shipped,
	}}
	svc := newService(t, orders, &fakeProfiles{})

	open, err := svc.ListOpen(context.Background(), order.Actor{ID: "arb-1", Arbiter: true})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "ord-1" {
		t.Fatalf("expected only the disputed order, got %v", open)
	}

	if _, err := svc.ListOpen(context.Background(), order.Actor{ID: "buyer-1"}); !order.IsForbidden(err) {
		t.Fatalf("expected forbidden for non-arbiter, got %v", err)
	}
}

func TestResolveForwardsRuling(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{"ord-1": disputedOrder("ord-1")}}
	svc := newService(t, orders, &fakeProfiles{})
	arb := order.Actor{ID: "arb-1", Arbiter: true}

	ord, err := svc.Resolve(context.Background(), arb, "ord-1", order.RulingBuyerWins)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ord.Status != order.StatusRefunded {
		t.Fatalf("buyer wins must refund, got %s", ord.Status)
	}

	ord, err = svc.ConfirmRefund(context.Background(), arb, "ord-1")
	if err != nil {
		t.Fatalf("confirm refund: %v", err)
	}
	if ord.RefundConfirmedBy == nil || *ord.RefundConfirmedBy != "arb-1" {
		t.Fatal("refund confirmation must record the confirming arbiter")
	}
}
