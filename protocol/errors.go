package protocol

import "errors"

var (
	// ErrDuplicateSubmission is returned when a message with the same (sourceChain, sender, nonce) exists.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrUnknownEntity is returned when a message, batch or grant does not exist.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidTransition is returned when the state machine does not permit the requested edge.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAttestationTimeout is reported when the attestation deadline elapsed without quorum.
	ErrAttestationTimeout = errors.New("attestation timeout")
	// ErrAttestationMismatch is reported when the chain lookup contradicts the attested claim.
	ErrAttestationMismatch = errors.New("attestation mismatch")
	// ErrEmptyBatch is returned when a batch is closed with no pending receipts.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrAnchorIndeterminate is returned when an anchor submission could not be confirmed either way.
	ErrAnchorIndeterminate = errors.New("anchor submission indeterminate")
	// ErrPaymentReplay is returned when a payment reference was already consumed.
	ErrPaymentReplay = errors.New("payment replay")
	// ErrPaymentUnverifiable is returned when the facilitator rejected the payment.
	ErrPaymentUnverifiable = errors.New("payment unverifiable")
	// ErrNotConfigured is returned when a required capability is not configured. Callers fail closed.
	ErrNotConfigured = errors.New("not configured")

	// ErrDuplicateAttestation is returned when a validator already attested to a message.
	ErrDuplicateAttestation = errors.New("duplicate attestation")
	// ErrUnknownValidator is returned for attestations from validators outside the current set.
	ErrUnknownValidator = errors.New("unknown validator")
	// ErrOfferExpired is returned when the only matching offer is past its deadline.
	ErrOfferExpired = errors.New("payment offer expired")
	// ErrNoMatchingOffer is returned when no outstanding offer matches the proof asset.
	ErrNoMatchingOffer = errors.New("no matching payment offer")
	// ErrInsufficientPayment is returned when the proof amount is below the offer amount.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrPaymentInFlight is returned when the same payment reference is being verified concurrently.
	ErrPaymentInFlight = errors.New("payment verification in flight")
	// ErrIndeterminate is returned when an external call timed out or kept failing. Retry later.
	ErrIndeterminate = errors.New("external call indeterminate")
	// ErrBusy is returned when the bound on in-flight external calls is reached. Retry later.
	ErrBusy = errors.New("too many in-flight external calls")
	// ErrInvalidInput is returned when a request is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTxNotFound is returned by a chain lookup when the referenced transaction does not exist.
	ErrTxNotFound = errors.New("transaction not found")
)

// IsIndeterminate reports whether err means the outcome is unknown rather than failed.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrIndeterminate) || errors.Is(err, ErrAnchorIndeterminate)
}

// IsRetryable reports whether the caller should retry the same operation later.
func IsRetryable(err error) bool {
	return IsIndeterminate(err) || errors.Is(err, ErrBusy) || errors.Is(err, ErrPaymentInFlight)
}
