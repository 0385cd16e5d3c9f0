package outbox

import "time"

// Message is one row of the transactional outbox. Rows are inserted in the
// same transaction as the state change they describe and delivered later by
// the dispatcher, so delivery is at-least-once.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}
