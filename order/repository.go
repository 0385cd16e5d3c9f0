package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrChargeMismatch signals a payment event whose charge reference
	// contradicts the one already bound to the order.
	ErrChargeMismatch = errors.New("order: charge reference mismatch")
	// ErrAmountMismatch signals a payment event whose amount differs from the
	// order's fixed amount.
	ErrAmountMismatch = errors.New("order: amount mismatch")
)

const orderColumns = `
	id, buyer_id, seller_id, product_id, amount, status::text, charge_ref,
	tracking_code, shipping_condition, defect_note, shipping_image_ref, shipping_video_ref,
	dispute_reason, dispute_received_at, dispute_image_ref, dispute_video_ref,
	ruling, override_reason, refund_confirmed_by, refund_confirmed_at,
	created_at, updated_at`

// Repository is the pgx-backed Ledger. Transitions are conditional single-row
// updates with the expected status in the WHERE clause; the audit event and
// outbox message land in the same transaction as the status write.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BindChargeParams is the payment reconciliation write: bind the external
// charge reference and move WAITING_PAYMENT to PAID as one atomic unit.
type BindChargeParams struct {
	OrderID   string
	ChargeRef string
	Amount    int64
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		sellerID string
		price    int64
		sold     bool
	)
	err = tx.QueryRow(ctx, `SELECT seller_id, price, sold FROM products WHERE id = $1 FOR UPDATE`, params.ProductID).
		Scan(&sellerID, &price, &sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrProductUnavailable
		}
		return Order{}, fmt.Errorf("order: load product: %w", err)
	}
	if sold {
		return Order{}, ErrProductUnavailable
	}
	if sellerID == params.BuyerID {
		return Order{}, &ValidationError{Field: "buyer_id", Reason: "cannot buy own listing"}
	}
	if price <= 0 {
		return Order{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	insertSQL := `
		INSERT INTO orders (buyer_id, seller_id, product_id, amount, status)
		VALUES ($1, $2, $3, $4, 'WAITING_PAYMENT')
		RETURNING` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, insertSQL, params.BuyerID, sellerID, params.ProductID, price))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	payload := map[string]any{"product_id": params.ProductID, "amount": price}
	if err := insertOrderEvent(ctx, tx, ord.ID, EventOrderCreated, params.BuyerID, payload); err != nil {
		return Order{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicOrderCreated, map[string]any{
		"order_id": ord.ID, "buyer_id": ord.BuyerID, "seller_id": ord.SellerID, "amount": ord.Amount,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return ord, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Order, error) {
	ord, err := scanOrder(r.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return ord, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+orderColumns+` FROM orders WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("order: list for user: %w", err)
	}
	return collectOrders(rows)
}

func (r *Repository) ListAll(ctx context.Context) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("order: list all: %w", err)
	}
	return collectOrders(rows)
}

func (r *Repository) MarkShipped(ctx context.Context, params ShipParams) (Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateSQL := `
		UPDATE orders
		SET status = 'SHIPPED',
		    tracking_code = $2,
		    shipping_condition = $3,
		    defect_note = $4,
		    shipping_image_ref = $5,
		    shipping_video_ref = $6,
		    updated_at = now()
		WHERE id = $1 AND status = 'PAID'
		RETURNING` + orderColumns

	ev := params.Evidence
	ord, err := scanOrder(tx.QueryRow(ctx, updateSQL, params.OrderID,
		ev.TrackingCode, ev.Condition, ev.DefectNote, ev.ImageRef, ev.VideoRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, r.transitionMiss(ctx, params.OrderID, ActionShip)
		}
		return Order{}, fmt.Errorf("order: mark shipped: %w", err)
	}

	payload := map[string]any{"tracking_code": ev.TrackingCode}
	if err := insertOrderEvent(ctx, tx, ord.ID, EventOrderShipped, params.SellerID, payload); err != nil {
		return Order{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicOrderShipped, map[string]any{
		"order_id": ord.ID, "tracking_code": ev.TrackingCode,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit ship: %w", err)
	}
	return ord, nil
}

func (r *Repository) MarkDisputed(ctx context.Context, params DisputeParams) (Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateSQL := `
		UPDATE orders
		SET status = 'DISPUTE',
		    dispute_reason = $2,
		    dispute_received_at = $3,
		    dispute_image_ref = $4,
		    dispute_video_ref = $5,
		    updated_at = now()
		WHERE id = $1 AND status = 'SHIPPED'
		RETURNING` + orderColumns

	ev := params.Evidence
	ord, err := scanOrder(tx.QueryRow(ctx, updateSQL, params.OrderID,
		ev.Reason, ev.ReceivedAt, ev.ImageRef, ev.VideoRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, r.transitionMiss(ctx, params.OrderID, ActionRaiseDispute)
		}
		return Order{}, fmt.Errorf("order: mark disputed: %w", err)
	}

	payload := map[string]any{"reason": ev.Reason, "received_at": ev.ReceivedAt.UTC()}
	if err := insertOrderEvent(ctx, tx, ord.ID, EventDisputeOpened, params.BuyerID, payload); err != nil {
		return Order{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicOrderDisputed, map[string]any{
		"order_id": ord.ID, "reason": ev.Reason,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit dispute: %w", err)
	}
	return ord, nil
}

func (r *Repository) Finalize(ctx context.Context, params FinalizeParams) (Order, error) {
	if params.Target != StatusCompleted && params.Target != StatusRefunded {
		return Order{}, &ValidationError{Field: "target", Reason: "finalize target must be terminal"}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateSQL := `
		UPDATE orders
		SET status = $3::order_status,
		    ruling = COALESCE($4, ruling),
		    override_reason = COALESCE($5, override_reason),
		    updated_at = now()
		WHERE id = $1 AND status = $2::order_status
		RETURNING` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, updateSQL,
		params.OrderID, params.From, params.Target, params.Ruling, params.OverrideReason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, r.transitionMiss(ctx, params.OrderID, params.Action)
		}
		return Order{}, fmt.Errorf("order: finalize: %w", err)
	}

	// Entering COMPLETED retires the product in the same transaction. The
	// sold guard makes completion exclusive: if another order on the same
	// product already completed, this transition rolls back.
	if params.Target == StatusCompleted {
		tag, err := tx.Exec(ctx, `UPDATE products SET sold = true WHERE id = $1 AND sold = false`, ord.ProductID)
		if err != nil {
			return Order{}, fmt.Errorf("order: mark product sold: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return Order{}, ErrProductUnavailable
		}
	}

	payload := params.EventPayload
	if payload == nil {
		payload = map[string]any{}
	}
	payload["previous_status"] = string(params.From)
	payload["next_status"] = string(params.Target)
	if params.Ruling != nil {
		payload["ruling"] = string(*params.Ruling)
	}
	if params.OverrideReason != nil {
		payload["override_reason"] = *params.OverrideReason
	}
	if err := insertOrderEvent(ctx, tx, ord.ID, params.EventType, params.ActorID, payload); err != nil {
		return Order{}, err
	}
	if err := enqueueOutbox(ctx, tx, params.Topic, map[string]any{
		"order_id": ord.ID, "status": string(params.Target),
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit finalize: %w", err)
	}
	return ord, nil
}

// BindChargeAndMarkPaid applies the payment-confirmation write. The branch
// decision happens under a row lock so duplicate deliveries serialize:
// applied=true on the first delivery, applied=false with a nil error on an
// idempotent replay.
func (r *Repository) BindChargeAndMarkPaid(ctx context.Context, params BindChargeParams) (Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, false, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := scanOrder(tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, params.OrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, ErrNotFound
		}
		return Order{}, false, fmt.Errorf("order: lock for payment: %w", err)
	}

	if ord.Amount != params.Amount {
		return ord, false, ErrAmountMismatch
	}

	if ord.ChargeRef != nil {
		if *ord.ChargeRef == params.ChargeRef && ord.Status != StatusWaitingPayment {
			// Same charge already applied: idempotent replay.
			return ord, false, nil
		}
		if *ord.ChargeRef != params.ChargeRef {
			return ord, false, ErrChargeMismatch
		}
	}

	if ord.Status != StatusWaitingPayment {
		// No bound charge yet the order has moved on (e.g. refunded by
		// override). A late payment event here needs manual review.
		return ord, false, ErrChargeMismatch
	}

	updateSQL := `
		UPDATE orders
		SET status = 'PAID', charge_ref = $2, updated_at = now()
		WHERE id = $1 AND status = 'WAITING_PAYMENT'
		RETURNING` + orderColumns

	updated, err := scanOrder(tx.QueryRow(ctx, updateSQL, params.OrderID, params.ChargeRef))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// charge_ref is unique across orders; this charge is already
			// bound to a different one. Manual review, not a retry.
			return ord, false, ErrChargeMismatch
		}
		return Order{}, false, fmt.Errorf("order: bind charge: %w", err)
	}
	ord = updated

	payload := map[string]any{"charge_ref": params.ChargeRef, "amount": params.Amount}
	if err := insertOrderEvent(ctx, tx, ord.ID, EventPaymentConfirmed, "", payload); err != nil {
		return Order{}, false, err
	}
	if err := enqueueOutbox(ctx, tx, TopicOrderPaid, map[string]any{
		"order_id": ord.ID, "charge_ref": params.ChargeRef,
	}); err != nil {
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, fmt.Errorf("order: commit payment: %w", err)
	}
	return ord, true, nil
}

func (r *Repository) ConfirmRefund(ctx context.Context, orderID, arbiterID string) (Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateSQL := `
		UPDATE orders
		SET refund_confirmed_by = $2, refund_confirmed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'REFUNDED' AND refund_confirmed_by IS NULL
		RETURNING` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, updateSQL, orderID, arbiterID))
	if err == nil {
		if err := insertOrderEvent(ctx, tx, ord.ID, EventRefundConfirmed, arbiterID, nil); err != nil {
			return Order{}, err
		}
		if err := enqueueOutbox(ctx, tx, TopicRefundConfirmed, map[string]any{"order_id": ord.ID}); err != nil {
			return Order{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Order{}, fmt.Errorf("order: commit refund confirmation: %w", err)
		}
		return ord, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order: confirm refund: %w", err)
	}

	current, err := r.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if current.Status != StatusRefunded {
		return Order{}, &InvalidTransitionError{OrderID: orderID, Current: current.Status, Action: "confirm_refund", Allowed: AllowedNext(current.Status)}
	}
	return Order{}, &ValidationError{Field: "refund_confirmation", Reason: "already recorded"}
}

// transitionMiss classifies a conditional update that matched no row: the
// order either does not exist or its status moved concurrently.
func (r *Repository) transitionMiss(ctx context.Context, orderID string, action Action) error {
	current, err := r.Get(ctx, orderID)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{OrderID: orderID, Current: current.Status, Action: action, Allowed: AllowedNext(current.Status)}
}

func insertOrderEvent(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal event payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO order_events (order_id, type, payload, actor_id) VALUES ($1, $2, $3::jsonb, $4)`,
		orderID, eventType, body, actor); err != nil {
		return fmt.Errorf("order: insert audit event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("order: enqueue outbox: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		ord        Order
		tracking   *string
		reason     *string
		receivedAt *time.Time
		ruling     *string

		condition, defect, shipImage, shipVideo *string
		dispImage, dispVideo                    *string
	)

	err := row.Scan(
		&ord.ID, &ord.BuyerID, &ord.SellerID, &ord.ProductID, &ord.Amount, &ord.Status, &ord.ChargeRef,
		&tracking, &condition, &defect, &shipImage, &shipVideo,
		&reason, &receivedAt, &dispImage, &dispVideo,
		&ruling, &ord.OverrideReason, &ord.RefundConfirmedBy, &ord.RefundConfirmedAt,
		&ord.CreatedAt, &ord.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}

	if tracking != nil {
		ord.Shipping = &ShippingEvidence{
			TrackingCode: *tracking,
			Condition:    condition,
			DefectNote:   defect,
			ImageRef:     shipImage,
			VideoRef:     shipVideo,
		}
	}
	if reason != nil && receivedAt != nil {
		ord.Dispute = &DisputeEvidence{
			Reason:     *reason,
			ReceivedAt: *receivedAt,
			ImageRef:   dispImage,
			VideoRef:   dispVideo,
		}
	}
	if ruling != nil {
		r := Ruling(*ruling)
		ord.Ruling = &r
	}
	return ord, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	out := make([]Order, 0, 16)
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}
