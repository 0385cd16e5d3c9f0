package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository drains outbox rows. The SKIP LOCKED select and the sent_at
// updates share one transaction, so the row locks are held while the batch is
// published and concurrent dispatchers never deliver the same rows.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Drain locks up to limit unsent rows, offers each to send, and retires the
// ones send accepted. A send failure leaves its row unsent for the next call.
// If the transaction itself fails after some publishes, nothing is retired
// and those messages go out again; consumers must tolerate duplicates.
func (r *Repository) Drain(ctx context.Context, limit int, send func(Message) error) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: fetch unsent: %w", err)
	}

	batch := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.CreatedAt, &m.SentAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate: %w", err)
	}

	sent := 0
	for _, m := range batch {
		if err := send(m); err != nil {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, m.ID); err != nil {
			return 0, fmt.Errorf("outbox: mark sent: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return sent, nil
}
