package protocol

import "time"

// Attestation is a validator's signed statement that it observed a message on its source chain.
// A message holds at most one attestation per validator.
type Attestation struct {
	MessageID   MessageID   `json:"messageId"`
	ValidatorID ValidatorID `json:"validatorId"`
	Signature   ByteSlice   `json:"signature"`
	ObservedAt  time.Time   `json:"observedAt"`
	// Correction marks the attestation as replacing the validator's earlier one.
	Correction bool `json:"correction,omitempty"`
}
