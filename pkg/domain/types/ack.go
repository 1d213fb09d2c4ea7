package types

// AckStatus is the acknowledgement returned to the capture client for a
// submitted event.
type AckStatus string

const (
	// AckQueued means the event was stored and a processing job was enqueued.
	AckQueued AckStatus = "Queued"
	// AckCoalesced means the event was stored and merged into an existing
	// Visit; no new processing job was spawned.
	AckCoalesced AckStatus = "Coalesced"
	// AckThrottled means the event was stored durably but the dispatch
	// queue was full; the job will be enqueued by the backlog drainer.
	AckThrottled AckStatus = "Throttled"
	// AckRejected means the event was malformed and discarded with no
	// side effect.
	AckRejected AckStatus = "Rejected"
)

// String returns the string representation of the ack status
func (s AckStatus) String() string {
	return string(s)
}
