package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"escrowflow/auth"
	"escrowflow/catalog"
	"escrowflow/dispute"
	"escrowflow/evidence"
	"escrowflow/order"
	"escrowflow/payment"
	"escrowflow/payout"
	"escrowflow/profile"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

// ChargeCreator is the slice of the payment client the API needs.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, amount int64, orderID string) (payment.Charge, error)
}

// Server wires the HTTP layer to the domain services.
type Server struct {
	logger *zap.Logger

	authService    *auth.Service
	catalogService *catalog.Service
	orderService   *order.Service
	paymentService *payment.Service
	profileService *profile.Service
	disputeService *dispute.Service
	payoutCalc     *payout.Calculator
	charges        ChargeCreator
	evidenceStore  evidence.Store
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/products", s.handleProducts)
	r.Get("/api/products/{productID}", s.handleProduct)

	// The processor authenticates the endpoint out of band; no session here.
	r.Post("/webhooks/payment", s.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/me", s.handleMe)

		r.Post("/api/products", s.handleCreateProduct)
		r.Get("/api/products/mine", s.handleMyProducts)

		r.Post("/api/orders", s.handleCreateOrder)
		r.Get("/api/orders", s.handleOrders)
		r.Get("/api/orders/{orderID}", s.handleOrder)
		r.Post("/api/orders/{orderID}/pay", s.handlePayOrder)
		r.Post("/api/orders/{orderID}/ship", s.handleShip)
		r.Post("/api/orders/{orderID}/accept", s.handleAccept)
		r.Post("/api/orders/{orderID}/dispute", s.handleRaiseDispute)
		r.Get("/api/orders/{orderID}/payout", s.handlePayoutPreview)

		r.Get("/api/profile", s.handleGetProfile)
		r.Put("/api/profile/payout", s.handleUpdatePayoutDetails)
		r.Post("/api/profile/kyc", s.handleSubmitKYC)

		r.Post("/api/evidence", s.handleUploadEvidence)

		r.Group(func(r chi.Router) {
			r.Use(s.requireArbiter)

			r.Get("/api/arbiter/orders", s.handleAllOrders)
			r.Get("/api/arbiter/disputes", s.handleOpenDisputes)
			r.Get("/api/arbiter/orders/{orderID}/case", s.handleCaseBundle)
			r.Post("/api/arbiter/orders/{orderID}/resolve", s.handleResolveDispute)
			r.Post("/api/arbiter/orders/{orderID}/override", s.handleOverride)
			r.Post("/api/arbiter/orders/{orderID}/confirm-refund", s.handleConfirmRefund)
			r.Post("/api/arbiter/kyc/{userID}", s.handleReviewKYC)
		})
	})

	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireArbiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if roleFromCtx(r.Context()) != auth.RoleArbiter {
			writeError(w, http.StatusForbidden, "arbiter role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func roleFromCtx(ctx context.Context) auth.Role {
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return role
}

func actorFromCtx(ctx context.Context) order.Actor {
	return order.Actor{
		ID:      userIDFromCtx(ctx),
		Arbiter: roleFromCtx(ctx) == auth.RoleArbiter,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors are logged and answered with a bare 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var conflict *payment.ConflictError

	switch {
	case order.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case order.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	case order.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, profile.ErrKYCNotPending),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, payout.ErrInvalidAmount),
		errors.Is(err, payout.ErrInvalidFeePercent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
