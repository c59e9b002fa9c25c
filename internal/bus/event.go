package bus

import "time"

// Event represents a domain event published on the bus.
// Kind is dot-namespaced, e.g. "message.upserted" or "rt.message".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
