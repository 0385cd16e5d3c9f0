package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no profile exists for the given user.
	ErrNotFound = errors.New("profile: not found")
	// ErrKYCNotPending signals a review attempted on a gate that is not
	// awaiting one.
	ErrKYCNotPending = errors.New("profile: kyc review requires a pending submission")
)

const profileColumns = `
	user_id, bank_name, bank_account_number, bank_account_name, phone, address,
	kyc_status::text, id_card_image_ref, selfie_image_ref, created_at, updated_at`

// Repository persists seller profiles. The KYC gate transition is a
// conditional update so concurrent reviews of the same submission serialize.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, userID string) (SellerProfile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT`+profileColumns+` FROM seller_profiles WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SellerProfile{}, ErrNotFound
		}
		return SellerProfile{}, fmt.Errorf("profile: get: %w", err)
	}
	return p, nil
}

// Ensure creates an empty profile row at account provisioning time if one
// does not exist yet.
func (r *Repository) Ensure(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO seller_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("profile: ensure: %w", err)
	}
	return nil
}

func (r *Repository) UpdatePayoutDetails(ctx context.Context, userID string, input PayoutDetailsInput) (SellerProfile, error) {
	updateSQL := `
		UPDATE seller_profiles
		SET bank_name = $2,
		    bank_account_number = $3,
		    bank_account_name = $4,
		    phone = NULLIF($5, ''),
		    address = NULLIF($6, ''),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, updateSQL, userID,
		input.BankName, input.BankAccountNumber, input.BankAccountName, input.Phone, input.Address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SellerProfile{}, ErrNotFound
		}
		return SellerProfile{}, fmt.Errorf("profile: update payout details: %w", err)
	}
	return p, nil
}

// SubmitKYCDocuments stores a fresh identity-document pair. Any resubmission
// resets the gate to pending for a new review.
func (r *Repository) SubmitKYCDocuments(ctx context.Context, userID, idCardRef, selfieRef string) (SellerProfile, error) {
	updateSQL := `
		UPDATE seller_profiles
		SET id_card_image_ref = $2,
		    selfie_image_ref = $3,
		    kyc_status = 'pending',
		    updated_at = now()
		WHERE user_id = $1
		RETURNING` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, updateSQL, userID, idCardRef, selfieRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SellerProfile{}, ErrNotFound
		}
		return SellerProfile{}, fmt.Errorf("profile: submit kyc documents: %w", err)
	}
	return p, nil
}

// ReviewKYC moves a pending gate to verified or rejected.
func (r *Repository) ReviewKYC(ctx context.Context, userID string, decision KYCStatus) (SellerProfile, error) {
	updateSQL := `
		UPDATE seller_profiles
		SET kyc_status = $2::kyc_status, updated_at = now()
		WHERE user_id = $1 AND kyc_status = 'pending'
		RETURNING` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, updateSQL, userID, decision))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SellerProfile{}, fmt.Errorf("profile: review kyc: %w", err)
	}

	if _, err := r.Get(ctx, userID); err != nil {
		return SellerProfile{}, err
	}
	return SellerProfile{}, ErrKYCNotPending
}

func scanProfile(row pgx.Row) (SellerProfile, error) {
	var (
		p                        SellerProfile
		bankName, number, holder *string
	)
	err := row.Scan(&p.UserID, &bankName, &number, &holder, &p.Phone, &p.Address,
		&p.KYCStatus, &p.IDCardImageRef, &p.SelfieImageRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return SellerProfile{}, err
	}
	if bankName != nil {
		p.BankName = *bankName
	}
	if number != nil {
		p.BankAccountNumber = *number
	}
	if holder != nil {
		p.BankAccountName = *holder
	}
	return p, nil
}
