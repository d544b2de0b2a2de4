package common

import "github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"

// EventSink receives state transition events. Publish must not block.
type EventSink interface {
	Publish(evt protocol.Event)
}
