package order

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestEscrowLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies the repository end to end: payment idempotency,
// the compare-and-swap transitions, and the audit/outbox rows they leave.
func TestEscrowLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "orders") || !tableExists(ctx, t, pool, "order_events") || !tableExists(ctx, t, pool, "outbox") {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	var (
		buyerID   string
		sellerID  string
		productID string
	)

	mustQueryRow := func(query string, args ...any) pgx.Row {
		return pool.QueryRow(ctx, query, args...)
	}

	suffix := time.Now().UnixNano()
	if err := mustQueryRow(`INSERT INTO users (email, full_name, password_hash) VALUES ($1, 'Test Buyer', 'x') RETURNING id`,
		fmt.Sprintf("buyer+%d@example.com", suffix)).Scan(&buyerID); err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	if err := mustQueryRow(`INSERT INTO users (email, full_name, password_hash) VALUES ($1, 'Test Seller', 'x') RETURNING id`,
		fmt.Sprintf("seller+%d@example.com", suffix)).Scan(&sellerID); err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	if err := mustQueryRow(`INSERT INTO products (seller_id, title, price) VALUES ($1, 'Vintage camera', 1000) RETURNING id`,
		sellerID).Scan(&productID); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	repo := NewRepository(pool)

	ord, err := repo.Create(ctx, CreateParams{BuyerID: buyerID, ProductID: productID})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM order_events WHERE order_id = $1`, ord.ID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'order_id' = $1`, ord.ID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, ord.ID)
		pool.Exec(ctx2, `DELETE FROM products WHERE id = $1`, productID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, buyerID, sellerID)
	})

	if ord.Status != StatusWaitingPayment {
		t.Fatalf("expected WAITING_PAYMENT, got %s", ord.Status)
	}

	// First delivery applies; the replay is a success no-op.
	chargeRef := fmt.Sprintf("chrg_itest_%d", suffix)
	bind := BindChargeParams{OrderID: ord.ID, ChargeRef: chargeRef, Amount: 1000}

	paid, applied, err := repo.BindChargeAndMarkPaid(ctx, bind)
	if err != nil {
		t.Fatalf("bind charge (first): %v", err)
	}
	if !applied || paid.Status != StatusPaid {
		t.Fatalf("expected applied PAID, got applied=%v status=%s", applied, paid.Status)
	}

	_, applied, err = repo.BindChargeAndMarkPaid(ctx, bind)
	if err != nil {
		t.Fatalf("bind charge (replay): %v", err)
	}
	if applied {
		t.Fatal("replay must not apply a second time")
	}

	// A different charge on the same order is a conflict.
	if _, _, err := repo.BindChargeAndMarkPaid(ctx, BindChargeParams{OrderID: ord.ID, ChargeRef: chargeRef + "x", Amount: 1000}); !errors.Is(err, ErrChargeMismatch) {
		t.Fatalf("expected ErrChargeMismatch, got %v", err)
	}

	// The same charge on a different order is also a conflict: the unique
	// constraint on charge_ref must surface as a mismatch, not a storage error.
	var otherProductID string
	if err := mustQueryRow(`INSERT INTO products (seller_id, title, price) VALUES ($1, 'Vinyl press', 1000) RETURNING id`,
		sellerID).Scan(&otherProductID); err != nil {
		t.Fatalf("seed second product: %v", err)
	}
	other, err := repo.Create(ctx, CreateParams{BuyerID: buyerID, ProductID: otherProductID})
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM order_events WHERE order_id = $1`, other.ID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'order_id' = $1`, other.ID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, other.ID)
		pool.Exec(ctx2, `DELETE FROM products WHERE id = $1`, otherProductID)
	})
	if _, _, err := repo.BindChargeAndMarkPaid(ctx, BindChargeParams{OrderID: other.ID, ChargeRef: chargeRef, Amount: 1000}); !errors.Is(err, ErrChargeMismatch) {
		t.Fatalf("expected ErrChargeMismatch for cross-order charge reuse, got %v", err)
	}
	var otherStatus string
	if err := mustQueryRow(`SELECT status FROM orders WHERE id = $1`, other.ID).Scan(&otherStatus); err != nil {
		t.Fatalf("verify second order: %v", err)
	}
	if otherStatus != string(StatusWaitingPayment) {
		t.Fatalf("cross-order charge reuse must not mutate the order, got %s", otherStatus)
	}

	var paidEvents int
	if err := mustQueryRow(`SELECT COUNT(*) FROM order_events WHERE order_id = $1 AND type = $2`, ord.ID, EventPaymentConfirmed).Scan(&paidEvents); err != nil {
		t.Fatalf("verify payment events: %v", err)
	}
	if paidEvents != 1 {
		t.Fatalf("expected exactly 1 PAYMENT_CONFIRMED event, got %d", paidEvents)
	}

	shipped, err := repo.MarkShipped(ctx, ShipParams{
		OrderID:  ord.ID,
		SellerID: sellerID,
		Evidence: ShippingEvidence{TrackingCode: "TRK-ITEST"},
	})
	if err != nil {
		t.Fatalf("mark shipped: %v", err)
	}
	if shipped.Status != StatusShipped || shipped.Shipping == nil {
		t.Fatalf("unexpected shipped state: %+v", shipped)
	}

	// Shipping again loses the compare-and-swap.
	if _, err := repo.MarkShipped(ctx, ShipParams{OrderID: ord.ID, SellerID: sellerID, Evidence: ShippingEvidence{TrackingCode: "TRK-2"}}); !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	disputed, err := repo.MarkDisputed(ctx, DisputeParams{
		OrderID: ord.ID,
		BuyerID: buyerID,
		Evidence: DisputeEvidence{Reason: "item arrived damaged", ReceivedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("mark disputed: %v", err)
	}
	if disputed.Status != StatusDispute {
		t.Fatalf("expected DISPUTE, got %s", disputed.Status)
	}

	ruling := RulingBuyerWins
	refunded, err := repo.Finalize(ctx, FinalizeParams{
		OrderID:   ord.ID,
		From:      StatusDispute,
		Target:    StatusRefunded,
		Action:    ActionResolveDispute,
		ActorID:   sellerID,
		EventType: EventDisputeResolved,
		Topic:     TopicOrderRefunded,
		Ruling:    &ruling,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if refunded.Status != StatusRefunded || refunded.Ruling == nil || *refunded.Ruling != RulingBuyerWins {
		t.Fatalf("unexpected refunded state: %+v", refunded)
	}

	// Refunded orders never mark the product sold.
	var sold bool
	if err := mustQueryRow(`SELECT sold FROM products WHERE id = $1`, productID).Scan(&sold); err != nil {
		t.Fatalf("verify product: %v", err)
	}
	if sold {
		t.Fatal("refunded order must not retire the product")
	}

	confirmed, err := repo.ConfirmRefund(ctx, ord.ID, sellerID)
	if err != nil {
		t.Fatalf("confirm refund: %v", err)
	}
	if confirmed.RefundConfirmedBy == nil {
		t.Fatal("expected refund confirmation to be recorded")
	}
	if _, err := repo.ConfirmRefund(ctx, ord.ID, sellerID); !IsValidation(err) {
		t.Fatalf("expected validation error on double confirmation, got %v", err)
	}

	var outboxCount int
	if err := mustQueryRow(`SELECT COUNT(*) FROM outbox WHERE payload->>'order_id' = $1`, ord.ID).Scan(&outboxCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	// created, paid, shipped, disputed, refunded, refund confirmed
	if outboxCount != 6 {
		t.Fatalf("expected 6 outbox messages, got %d", outboxCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
