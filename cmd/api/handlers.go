package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowflow/auth"
	"escrowflow/catalog"
	"escrowflow/order"
	"escrowflow/payment"
	"escrowflow/profile"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Every member gets a profile row up front so payout details and KYC have
	// somewhere to land.
	if err := s.profileService.Ensure(r.Context(), user.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

type productResponse struct {
	ID          string   `json:"id"`
	SellerID    string   `json:"seller_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       int64    `json:"price"`
	ImageRefs   []string `json:"image_refs,omitempty"`
	Sold        bool     `json:"sold"`
	CreatedAt   string   `json:"created_at"`
}

func toProductResponse(p catalog.Product) productResponse {
	resp := productResponse{
		ID:        p.ID,
		SellerID:  p.SellerID,
		Title:     p.Title,
		Price:     p.Price,
		ImageRefs: p.ImageRefs,
		Sold:      p.Sold,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.Description != nil {
		resp.Description = *p.Description
	}
	return resp
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Price       int64    `json:"price"`
		ImageRefs   []string `json:"image_refs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.catalogService.Create(r.Context(), userIDFromCtx(r.Context()), catalog.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		ImageRefs:   req.ImageRefs,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := s.catalogService.ListAvailable(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalogService.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (s *Server) handleMyProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalogService.ListBySeller(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type orderResponse struct {
	ID        string `json:"id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	ChargeRef string `json:"charge_ref,omitempty"`

	Shipping *shippingEvidenceResponse `json:"shipping_evidence,omitempty"`
	Dispute  *disputeEvidenceResponse  `json:"dispute_evidence,omitempty"`

	Ruling            string `json:"ruling,omitempty"`
	OverrideReason    string `json:"override_reason,omitempty"`
	RefundConfirmedBy string `json:"refund_confirmed_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type shippingEvidenceResponse struct {
	TrackingCode string `json:"tracking_code"`
	Condition    string `json:"condition,omitempty"`
	DefectNote   string `json:"defect_note,omitempty"`
	ImageRef     string `json:"image_ref,omitempty"`
	VideoRef     string `json:"video_ref,omitempty"`
}

type disputeEvidenceResponse struct {
	Reason     string `json:"reason"`
	ReceivedAt string `json:"received_at"`
	ImageRef   string `json:"image_ref,omitempty"`
	VideoRef   string `json:"video_ref,omitempty"`
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:        o.ID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		ProductID: o.ProductID,
		Amount:    o.Amount,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
	if o.ChargeRef != nil {
		resp.ChargeRef = *o.ChargeRef
	}
	if o.Shipping != nil {
		resp.Shipping = &shippingEvidenceResponse{
			TrackingCode: o.Shipping.TrackingCode,
			Condition:    strOrEmpty(o.Shipping.Condition),
			DefectNote:   strOrEmpty(o.Shipping.DefectNote),
			ImageRef:     strOrEmpty(o.Shipping.ImageRef),
			VideoRef:     strOrEmpty(o.Shipping.VideoRef),
		}
	}
	if o.Dispute != nil {
		resp.Dispute = &disputeEvidenceResponse{
			Reason:     o.Dispute.Reason,
			ReceivedAt: o.Dispute.ReceivedAt.Format(time.RFC3339),
			ImageRef:   strOrEmpty(o.Dispute.ImageRef),
			VideoRef:   strOrEmpty(o.Dispute.VideoRef),
		}
	}
	if o.Ruling != nil {
		resp.Ruling = string(*o.Ruling)
	}
	if o.OverrideReason != nil {
		resp.OverrideReason = *o.OverrideReason
	}
	if o.RefundConfirmedBy != nil {
		resp.RefundConfirmedBy = *o.RefundConfirmedBy
	}
	return resp
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ord, err := s.orderService.Create(r.Context(), userIDFromCtx(r.Context()), req.ProductID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(ord))
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.ListForUser(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orderService.Get(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

// handlePayOrder creates a processor charge for the order and hands the QR
// image back to the buyer. The status only moves when the webhook confirms.
func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	orderID := chi.URLParam(r, "orderID")

	ord, err := s.orderService.Get(r.Context(), actor, orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if actor.ID != ord.BuyerID {
		s.writeDomainError(w, &order.ForbiddenError{OrderID: orderID, ActorID: actor.ID, Action: "pay", Requires: "the order's buyer"})
		return
	}
	if ord.Status != order.StatusWaitingPayment {
		s.writeDomainError(w, &order.InvalidTransitionError{
			OrderID: orderID, Current: ord.Status, Action: order.ActionConfirmPayment, Allowed: order.AllowedNext(ord.Status),
		})
		return
	}

	charge, err := s.charges.CreateCharge(r.Context(), ord.Amount, ord.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"charge_ref":   charge.ID,
		"qr_image_url": charge.QRImageURL,
	})
}

func (s *Server) handleShip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingCode string `json:"tracking_code"`
		Condition    string `json:"condition"`
		DefectNote   string `json:"defect_note"`
		ImageRef     string `json:"image_ref"`
		VideoRef     string `json:"video_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ord, err := s.orderService.Ship(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"), order.ShipmentInput{
		TrackingCode: req.TrackingCode,
		Condition:    req.Condition,
		DefectNote:   req.DefectNote,
		ImageRef:     req.ImageRef,
		VideoRef:     req.VideoRef,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orderService.Accept(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason     string    `json:"reason"`
		ReceivedAt time.Time `json:"received_at"`
		ImageRef   string    `json:"image_ref"`
		VideoRef   string    `json:"video_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ord, err := s.orderService.RaiseDispute(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"), order.DisputeInput{
		Reason:     req.Reason,
		ReceivedAt: req.ReceivedAt,
		ImageRef:   req.ImageRef,
		VideoRef:   req.VideoRef,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

type payoutResponse struct {
	Amount     int64   `json:"amount"`
	Fee        int64   `json:"fee"`
	Net        int64   `json:"net"`
	FeePercent float64 `json:"fee_percent"`
}

// handlePayoutPreview shows the advisory fee split for an order. The split is
// informational; the transfer itself happens outside the system.
func (s *Server) handlePayoutPreview(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orderService.Get(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	split, err := s.payoutCalc.Calculate(ord.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{
		Amount:     split.Amount,
		Fee:        split.Fee,
		Net:        split.Net,
		FeePercent: s.payoutCalc.FeePercent(),
	})
}

// handlePaymentWebhook receives processor push events. Applied, replayed and
// ignored deliveries all answer 200 so the processor stops redelivering;
// conflicts answer 409 and storage failures 5xx to force a retry.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var evt payment.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	result, err := s.paymentService.HandleEvent(r.Context(), evt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(result.Outcome)})
}

type profileResponse struct {
	UserID            string `json:"user_id"`
	BankName          string `json:"bank_name,omitempty"`
	BankAccountNumber string `json:"bank_account_number,omitempty"`
	BankAccountName   string `json:"bank_account_name,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Address           string `json:"address,omitempty"`
	KYCStatus         string `json:"kyc_status"`
	PayoutReady       bool   `json:"payout_ready"`
}

func toProfileResponse(p profile.SellerProfile) profileResponse {
	return profileResponse{
		UserID:            p.UserID,
		BankName:          p.BankName,
		BankAccountNumber: p.BankAccountNumber,
		BankAccountName:   p.BankAccountName,
		Phone:             strOrEmpty(p.Phone),
		Address:           strOrEmpty(p.Address),
		KYCStatus:         string(p.KYCStatus),
		PayoutReady:       p.PayoutReady(),
	}
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profileService.Get(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleUpdatePayoutDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankName          string `json:"bank_name"`
		BankAccountNumber string `json:"bank_account_number"`
		BankAccountName   string `json:"bank_account_name"`
		Phone             string `json:"phone"`
		Address           string `json:"address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.profileService.UpdatePayoutDetails(r.Context(), userIDFromCtx(r.Context()), profile.PayoutDetailsInput{
		BankName:          req.BankName,
		BankAccountNumber: req.BankAccountNumber,
		BankAccountName:   req.BankAccountName,
		Phone:             req.Phone,
		Address:           req.Address,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDCardImageRef string `json:"id_card_image_ref"`
		SelfieImageRef string `json:"selfie_image_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.profileService.SubmitKYCDocuments(r.Context(), userIDFromCtx(r.Context()), req.IDCardImageRef, req.SelfieImageRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleReviewKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.profileService.ReviewKYC(r.Context(), chi.URLParam(r, "userID"), profile.KYCStatus(req.Decision))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) || errors.Is(err, profile.ErrKYCNotPending) {
			s.writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// handleUploadEvidence stores a raw media upload and returns the reference to
// attach on a later ship, dispute or KYC call.
func (s *Server) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	url, err := s.evidenceStore.Put(r.Context(), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) handleAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.ListAll(r.Context(), actorFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleOpenDisputes(w http.ResponseWriter, r *http.Request) {
	orders, err := s.disputeService.ListOpen(r.Context(), actorFromCtx(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCaseBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.disputeService.Bundle(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order": toOrderResponse(bundle.Order),
		"payout": payoutResponse{
			Amount:     bundle.Payout.Amount,
			Fee:        bundle.Payout.Fee,
			Net:        bundle.Payout.Net,
			FeePercent: s.payoutCalc.FeePercent(),
		},
		"seller":              toProfileResponse(bundle.Seller),
		"seller_payout_ready": bundle.SellerPayoutReady,
	})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ruling string `json:"ruling"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ord, err := s.disputeService.Resolve(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"), order.Ruling(req.Ruling))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ord, err := s.disputeService.Override(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"), order.Status(req.Target), req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (s *Server) handleConfirmRefund(w http.ResponseWriter, r *http.Request) {
	ord, err := s.disputeService.ConfirmRefund(r.Context(), actorFromCtx(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}
