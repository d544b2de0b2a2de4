// Package payment gates resources behind x402-style payment offers and proofs.
package payment

import (
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

// RequestState tracks one gated request through the payment protocol.
type RequestState string

const (
	RequestStateUnpaid         RequestState = "unpaid"
	RequestStateOfferPresented RequestState = "offer_presented"
	RequestStateProofSubmitted RequestState = "proof_submitted"
	RequestStateVerified       RequestState = "verified"
	RequestStateRejected       RequestState = "rejected"
)

// GatedRequest is a request for a payment gated resource.
type GatedRequest struct {
	ResourceID string `json:"resourceId"`
	// GrantToken is a grant issued by an accepted proof. It is consumed by the first allowed request.
	GrantToken string `json:"grantToken,omitempty"`
}

// Decision is the gate verdict for a request. Offers is set only when payment is required.
type Decision struct {
	Allowed bool                     `json:"allowed"`
	State   RequestState             `json:"state"`
	Grant   *protocol.PaymentGrant   `json:"grant,omitempty"`
	Offers  []*protocol.PaymentOffer `json:"offers,omitempty"`
}
