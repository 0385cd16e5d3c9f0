package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"escrowflow/order"
)

// Ledger is the slice of the order repository the reconciliation service
// needs. The bind is a single serialized check-and-write per order.
type Ledger interface {
	BindChargeAndMarkPaid(ctx context.Context, params order.BindChargeParams) (order.Order, bool, error)
}

// ReplayCache is an advisory dedupe in front of the ledger. A cache miss or a
// cache failure always falls through to the database, which stays the
// authority on whether an event was applied.
type ReplayCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// Result reports how a delivery was handled.
type Result struct {
	Outcome Outcome
	Order   order.Order
}

const replayCacheTTL = 24 * time.Hour

// Service consumes payment-confirmation events under an at-least-once
// delivery contract: a replay of an applied event succeeds without mutation.
type Service struct {
	ledger Ledger
	cache  ReplayCache
	logger *zap.Logger
}

// NewService builds the reconciliation service. cache may be nil.
func NewService(ledger Ledger, cache ReplayCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, cache: cache, logger: logger}
}

// HandleEvent processes one delivery. Non-successful or unknown event kinds
// are acknowledged and ignored so the processor does not treat them as
// delivery failures.
func (s *Service) HandleEvent(ctx context.Context, evt Event) (Result, error) {
	if evt.Key != EventKeyChargeComplete || evt.Data.Status != chargeStatusSuccessful {
		s.logger.Debug("ignoring payment event",
			zap.String("key", evt.Key),
			zap.String("status", evt.Data.Status))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if evt.Data.ID == "" {
		return Result{}, &order.ValidationError{Field: "data.id", Reason: "required"}
	}
	orderID := evt.Data.Metadata.OrderID
	if orderID == "" {
		return Result{}, &order.ValidationError{Field: "data.metadata.order_id", Reason: "required"}
	}

	cacheKey := fmt.Sprintf("payment:applied:%s:%s", orderID, evt.Data.ID)
	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, cacheKey)
		if err != nil {
			s.logger.Warn("replay cache lookup failed, falling through to ledger", zap.Error(err))
		} else if seen {
			s.logger.Info("payment event replay short-circuited by cache",
				zap.String("order_id", orderID),
				zap.String("charge_ref", evt.Data.ID))
			return Result{Outcome: OutcomeReplay}, nil
		}
	}

	ord, applied, err := s.ledger.BindChargeAndMarkPaid(ctx, order.BindChargeParams{
		OrderID:   orderID,
		ChargeRef: evt.Data.ID,
		Amount:    evt.Data.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			return Result{}, &ConflictError{OrderID: orderID, EventCharge: evt.Data.ID, Reason: "no such order"}
		case errors.Is(err, order.ErrChargeMismatch):
			bound := ""
			if ord.ChargeRef != nil {
				bound = *ord.ChargeRef
			}
			return Result{}, &ConflictError{
				OrderID:     orderID,
				EventCharge: evt.Data.ID,
				BoundCharge: bound,
				Reason:      fmt.Sprintf("order is %s with a contradicting charge binding", ord.Status),
			}
		case errors.Is(err, order.ErrAmountMismatch):
			return Result{}, &ConflictError{
				OrderID:     orderID,
				EventCharge: evt.Data.ID,
				Reason:      fmt.Sprintf("event amount %d does not match order amount %d", evt.Data.Amount, ord.Amount),
			}
		default:
			// Storage failure: propagate so the webhook answers 5xx and the
			// processor redelivers.
			return Result{}, err
		}
	}

	if s.cache != nil {
		if err := s.cache.MarkSeen(ctx, cacheKey, replayCacheTTL); err != nil {
			s.logger.Warn("replay cache write failed", zap.Error(err))
		}
	}

	if !applied {
		s.logger.Info("payment event replay acknowledged",
			zap.String("order_id", ord.ID),
			zap.String("charge_ref", evt.Data.ID))
		return Result{Outcome: OutcomeReplay, Order: ord}, nil
	}

	s.logger.Info("payment confirmed",
		zap.String("order_id", ord.ID),
		zap.String("charge_ref", evt.Data.ID),
		zap.Int64("amount", evt.Data.Amount))
	return Result{Outcome: OutcomeApplied, Order: ord}, nil
}
