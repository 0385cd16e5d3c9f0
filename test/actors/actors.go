package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/order"
)

// expected reports whether err is a loss the actor is allowed to take under
// contention: a compare-and-swap miss, a vanished row, or a validation reject.
func expected(err error) bool {
	return err == nil ||
		order.IsInvalidTransition(err) ||
		order.IsValidation(err) ||
		errors.Is(err, order.ErrNotFound) ||
		errors.Is(err, order.ErrProductUnavailable) ||
		errors.Is(err, order.ErrChargeMismatch) ||
		errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, context.Canceled)
}

// Buyer opens orders on random still-available products.
func Buyer(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var productID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM products WHERE sold = false AND seller_id <> $1 ORDER BY random() LIMIT 1`, buyerID).Scan(&productID)
		if err == nil {
			_, err = repo.Create(ctx, order.CreateParams{BuyerID: buyerID, ProductID: productID})
		}
		if !expected(err) {
			return fmt.Errorf("buyer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Payer simulates the processor: it delivers the payment event for a waiting
// order, sometimes twice, with a charge reference derived from the order id so
// replays are genuine duplicates.
func Payer(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			orderID string
			amount  int64
		)
		err := pool.QueryRow(ctx,
			`SELECT id, amount FROM orders WHERE status = 'WAITING_PAYMENT' ORDER BY random() LIMIT 1`).Scan(&orderID, &amount)
		if err == nil {
			params := order.BindChargeParams{OrderID: orderID, ChargeRef: "chrg-" + orderID, Amount: amount}
			deliveries := 1 + rand.Intn(2)
			for i := 0; i < deliveries && expected(err); i++ {
				_, _, err = repo.BindChargeAndMarkPaid(ctx, params)
			}
		}
		if !expected(err) {
			return fmt.Errorf("payer: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Shipper moves paid orders to SHIPPED; concurrent shippers race on the same
// row and the losers must get a transition error, never a double write.
func Shipper(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			orderID  string
			sellerID string
		)
		err := pool.QueryRow(ctx,
			`SELECT id, seller_id FROM orders WHERE status = 'PAID' ORDER BY random() LIMIT 1`).Scan(&orderID, &sellerID)
		if err == nil {
			_, err = repo.MarkShipped(ctx, order.ShipParams{
				OrderID:  orderID,
				SellerID: sellerID,
				Evidence: order.ShippingEvidence{TrackingCode: "TRK-" + orderID[:8]},
			})
		}
		if !expected(err) {
			return fmt.Errorf("shipper: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Accepter completes shipped orders as the buyer. It races the Disputer for
// the same SHIPPED rows; exactly one of them may win each order.
func Accepter(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			orderID string
			buyerID string
		)
		err := pool.QueryRow(ctx,
			`SELECT id, buyer_id FROM orders WHERE status = 'SHIPPED' ORDER BY random() LIMIT 1`).Scan(&orderID, &buyerID)
		if err == nil {
			_, err = repo.Finalize(ctx, order.FinalizeParams{
				OrderID:   orderID,
				From:      order.StatusShipped,
				Target:    order.StatusCompleted,
				Action:    order.ActionAccept,
				ActorID:   buyerID,
				EventType: order.EventOrderAccepted,
				Topic:     order.TopicOrderCompleted,
			})
		}
		if !expected(err) {
			return fmt.Errorf("accepter: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer freezes shipped orders in DISPUTE with buyer evidence.
func Disputer(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			orderID string
			buyerID string
		)
		err := pool.QueryRow(ctx,
			`SELECT id, buyer_id FROM orders WHERE status = 'SHIPPED' ORDER BY random() LIMIT 1`).Scan(&orderID, &buyerID)
		if err == nil {
			_, err = repo.MarkDisputed(ctx, order.DisputeParams{
				OrderID: orderID,
				BuyerID: buyerID,
				Evidence: order.DisputeEvidence{
					Reason:     "stress: item not as described",
					ReceivedAt: time.Now().UTC(),
				},
			})
		}
		if !expected(err) {
			return fmt.Errorf("disputer: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Arbiter rules on disputed orders with a random ruling and confirms refunds
// it produced.
func Arbiter(ctx context.Context, pool *pgxpool.Pool, repo *order.Repository, arbiterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM orders WHERE status = 'DISPUTE' ORDER BY random() LIMIT 1`).Scan(&orderID)
		if err == nil {
			ruling := order.RulingSellerWins
			target := order.StatusCompleted
			topic := order.TopicOrderCompleted
			if rand.Intn(2) == 0 {
				ruling = order.RulingBuyerWins
				target = order.StatusRefunded
				topic = order.TopicOrderRefunded
			}
			_, err = repo.Finalize(ctx, order.FinalizeParams{
				OrderID:   orderID,
				From:      order.StatusDispute,
				Target:    target,
				Action:    order.ActionResolveDispute,
				ActorID:   arbiterID,
				EventType: order.EventDisputeResolved,
				Topic:     topic,
				Ruling:    &ruling,
			})
			if err == nil && target == order.StatusRefunded {
				_, err = repo.ConfirmRefund(ctx, orderID, arbiterID)
			}
		}
		if !expected(err) {
			return fmt.Errorf("arbiter: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox with SKIP LOCKED, the way the dispatcher
// does, so delivery races run alongside the transition races.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE sent_at IS NULL ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				// simulated broker failure: leave the row for a retry
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
