package dispute

import (
	"escrowflow/order"
	"escrowflow/payout"
	"escrowflow/profile"
)

// EvidenceBundle is everything an arbiter sees when deciding a case: both
// parties' evidence frozen on the order, the advisory payout split, and the
// seller's payout identity with its KYC gate. The refund itself is executed
// manually against the processor using the order's ChargeRef.
type EvidenceBundle struct {
	Order  order.Order
	Payout payout.Breakdown

	Seller            profile.SellerProfile
	SellerPayoutReady bool
}
