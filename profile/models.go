package profile

import "time"

// KYCStatus is the identity-verification gate on a seller profile. It is
// advisory metadata for payout decisions; it never blocks the order machine.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// SellerProfile carries the payout identity and the KYC gate, decoupled from
// any single order.
type SellerProfile struct {
	UserID string

	BankName          string
	BankAccountNumber string
	BankAccountName   string
	Phone             *string
	Address           *string

	KYCStatus      KYCStatus
	IDCardImageRef *string
	SelfieImageRef *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayoutReady reports whether the payout fields are complete enough for an
// operator to execute a manual transfer. Non-emptiness is the only check.
func (p SellerProfile) PayoutReady() bool {
	return p.BankName != "" && p.BankAccountNumber != "" && p.BankAccountName != ""
}

// PayoutDetailsInput updates the seller-editable payout fields.
type PayoutDetailsInput struct {
	BankName          string
	BankAccountNumber string
	BankAccountName   string
	Phone             string
	Address           string
}
