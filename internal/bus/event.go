package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated namespaces. chatd uses:
//
//	socket.*   connection lifecycle and decoded wire events
//	timeline.* conversation timeline mutations
//	send.*     outbound pipeline results (queued, confirmed, rejected)
//	social.*   friend requests and group notices
//	session.*  connection state changes
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
