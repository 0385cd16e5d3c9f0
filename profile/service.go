package profile

import (
	"context"
	"fmt"
	"strings"
)

// Store abstracts the repository for the service and its tests.
type Store interface {
	Get(ctx context.Context, userID string) (SellerProfile, error)
	Ensure(ctx context.Context, userID string) error
	UpdatePayoutDetails(ctx context.Context, userID string, input PayoutDetailsInput) (SellerProfile, error)
	SubmitKYCDocuments(ctx context.Context, userID, idCardRef, selfieRef string) (SellerProfile, error)
	ReviewKYC(ctx context.Context, userID string, decision KYCStatus) (SellerProfile, error)
}

// Service owns seller-profile business rules. Role gating (only an arbiter
// may review a gate) happens at the interface layer that holds the session;
// the service enforces the state rules.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, userID string) (SellerProfile, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) Ensure(ctx context.Context, userID string) error {
	return s.store.Ensure(ctx, userID)
}

// UpdatePayoutDetails saves the seller's payout identity. Partial data is
// allowed here; completeness is only required when a payout is presented
// (SellerProfile.PayoutReady).
func (s *Service) UpdatePayoutDetails(ctx context.Context, userID string, input PayoutDetailsInput) (SellerProfile, error) {
	input.BankName = strings.TrimSpace(input.BankName)
	input.BankAccountNumber = strings.TrimSpace(input.BankAccountNumber)
	input.BankAccountName = strings.TrimSpace(input.BankAccountName)
	return s.store.UpdatePayoutDetails(ctx, userID, input)
}

// SubmitKYCDocuments records a new identity-document pair and resets the
// gate to pending regardless of its previous value.
func (s *Service) SubmitKYCDocuments(ctx context.Context, userID, idCardRef, selfieRef string) (SellerProfile, error) {
	if strings.TrimSpace(idCardRef) == "" || strings.TrimSpace(selfieRef) == "" {
		return SellerProfile{}, fmt.Errorf("profile: kyc submission requires both document references")
	}
	return s.store.SubmitKYCDocuments(ctx, userID, idCardRef, selfieRef)
}

// ReviewKYC applies the arbiter's decision to a pending gate.
func (s *Service) ReviewKYC(ctx context.Context, sellerID string, decision KYCStatus) (SellerProfile, error) {
	if decision != KYCVerified && decision != KYCRejected {
		return SellerProfile{}, fmt.Errorf("profile: kyc decision must be verified or rejected, got %q", decision)
	}
	return s.store.ReviewKYC(ctx, sellerID, decision)
}
