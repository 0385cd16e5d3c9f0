package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_charge_ref_unique",
			SQL: `SELECT charge_ref, COUNT(*) FROM orders
                  WHERE charge_ref IS NOT NULL
                  GROUP BY charge_ref HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_paid_orders_have_charge",
			SQL: `SELECT id, status FROM orders
                  WHERE status <> 'WAITING_PAYMENT' AND charge_ref IS NULL`,
		},
		{
			Name: "O3_one_shot_events",
			SQL: `SELECT order_id, type, COUNT(*) FROM order_events
                  WHERE type IN ('PAYMENT_CONFIRMED','ORDER_SHIPPED','DISPUTE_OPENED')
                  GROUP BY order_id, type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_sold_flag_matches_completed",
			SQL: `SELECT p.id FROM products p
                  WHERE p.sold = true
                    AND NOT EXISTS (SELECT 1 FROM orders o
                                    WHERE o.product_id = p.id AND o.status = 'COMPLETED')`,
		},
		{
			Name: "O5_single_completion_per_product",
			SQL: `SELECT product_id, COUNT(*) FROM orders
                  WHERE status = 'COMPLETED'
                  GROUP BY product_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_shipped_orders_have_tracking",
			SQL: `SELECT id, status FROM orders
                  WHERE status IN ('SHIPPED','DISPUTE','COMPLETED') AND tracking_code IS NULL`,
		},
		{
			Name: "O7_disputes_carry_reason",
			SQL: `SELECT id FROM orders
                  WHERE status = 'DISPUTE' AND dispute_reason IS NULL`,
		},
		{
			Name: "O8_refund_confirmation_scope",
			SQL: `SELECT id, status FROM orders
                  WHERE refund_confirmed_by IS NOT NULL AND status <> 'REFUNDED'`,
		},
		{
			Name: "O9_outbox_not_stale",
			SQL: `SELECT id, topic FROM outbox
                  WHERE sent_at IS NULL AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
