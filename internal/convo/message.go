package convo

import "time"

// DeliveryState tracks a message's confirmation status.
type DeliveryState string

const (
	// Pending marks an optimistic local entry not yet acknowledged by the server.
	Pending DeliveryState = "pending"
	// Confirmed marks a server-acknowledged or server-sourced entry.
	Confirmed DeliveryState = "confirmed"
	// Failed marks an entry whose send failed for a non-policy reason.
	Failed DeliveryState = "failed"
)

// Attachment references uploaded media carried with a message.
type Attachment struct {
	URI  string
	Kind string
}

// Message is one timeline entry. LocalID is assigned at creation on this
// client and never collides across concurrent sends; ServerID is filled in
// once the server confirms or when the entry originates from the server.
type Message struct {
	LocalID    string
	ServerID   string
	Sender     string
	Key        Key
	Content    string
	CreatedAt  time.Time
	Attachment *Attachment
	State      DeliveryState
}

// Confirmed reports whether the entry carries a server identity.
func (m Message) ConfirmedByServer() bool {
	return m.ServerID != "" && m.State == Confirmed
}
