package protocol

import "time"

// EventType classifies published events.
type EventType string

const (
	EventTypeMessageSubmitted    EventType = "message.submitted"
	EventTypeMessageStateChanged EventType = "message.state_changed"
	EventTypeBatchSealed         EventType = "batch.sealed"
	EventTypeBatchAnchored       EventType = "batch.anchored"
	EventTypeBatchConfirmed      EventType = "batch.confirmed"
	EventTypePaymentVerified     EventType = "payment.verified"
	// EventTypeHeartbeat is a keep-alive that carries no domain state.
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event is a state transition notification fanned out to subscribers.
// Sequence is assigned per EntityID so subscribers can detect gaps for a given entity.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	EntityID  string    `json:"entityId,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// IsHeartbeat reports whether the event is a synthetic keep-alive.
func (e Event) IsHeartbeat() bool {
	return e.Type == EventTypeHeartbeat
}

// MessageStateChange is the payload of a message lifecycle event.
type MessageStateChange struct {
	MessageID MessageID     `json:"messageId"`
	From      MessageState  `json:"from"`
	To        MessageState  `json:"to"`
	Reason    FailureReason `json:"reason,omitempty"`
}

// BatchAnchorChange is the payload of batch lifecycle events.
type BatchAnchorChange struct {
	Sequence    uint64       `json:"sequence"`
	Root        Bytes32      `json:"root"`
	Status      AnchorStatus `json:"status"`
	AnchorTxID  string       `json:"anchorTxId,omitempty"`
	BlockHeight *uint64      `json:"blockHeight,omitempty"`
	Receipts    int          `json:"receipts"`
}

// PaymentAccepted is the payload of a payment verification event.
type PaymentAccepted struct {
	ResourceID string `json:"resourceId"`
	AssetKey   string `json:"assetKey"`
	TxHashOrID string `json:"txHashOrId"`
}
