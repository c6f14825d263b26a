// Package wire defines the event-channel payloads exchanged with the
// messaging server and their JSON codec.
//
// Every frame is an envelope {"event": <name>, "data": <payload>}. Inbound
// frames decode into the Event sum type so that handling new event kinds is
// a compile-checked change rather than string dispatch.
package wire

import "time"

// Event is the closed set of server-to-client events.
type Event interface {
	event() string
}

// DirectMessage is a message pushed for a one-to-one conversation.
type DirectMessage struct {
	ID             string
	FromUser       string
	ToUser         string
	Content        string
	Attachment     string
	AttachmentType string
	CreatedAt      time.Time
}

// GroupMessage is a message pushed for a group conversation.
type GroupMessage struct {
	ID             string
	FromUser       string
	GroupID        int64
	Content        string
	Attachment     string
	AttachmentType string
	CreatedAt      time.Time
}

// MessageSent confirms delivery of a message this client emitted.
type MessageSent struct {
	ID        string
	ToUser    string
	GroupID   int64
	Content   string
	CreatedAt time.Time
}

// ServerError is the error envelope the server pushes in response to a
// rejected command.
type ServerError struct {
	Topic   string
	Type    string
	Message string
}

// FriendRequest notifies that another user requested to connect.
type FriendRequest struct {
	FromUser     string
	FromUsername string
}

// GroupUpdate notifies about group membership changes.
type GroupUpdate struct {
	GroupID  int64
	Action   string
	Username string
}

func (DirectMessage) event() string { return EventDirectMessage }
func (GroupMessage) event() string  { return EventGroupMessage }
func (MessageSent) event() string   { return EventMessageSent }
func (ServerError) event() string   { return EventResponse }
func (FriendRequest) event() string { return EventFriendRequest }
func (GroupUpdate) event() string   { return EventGroupUpdate }

// Wire event names.
const (
	EventDirectMessage = "directMessage"
	EventGroupMessage  = "groupMessage"
	EventMessageSent   = "messageSent"
	EventResponse      = "response"
	EventFriendRequest = "friendRequest"
	EventGroupUpdate   = "groupUpdate"
)

// Error types carried by ServerError.
const (
	ErrTypeNotFriend = "not_friend"
)

// Error implements the error interface.
func (e ServerError) Error() string {
	if e.Message != "" {
		return e.Type + ": " + e.Message
	}
	return e.Type
}

// IsPolicyRejection reports whether the error is a social-graph or
// authorization denial of a specific send, as opposed to a transport or
// generic server failure. Policy rejections are never retried.
func (e ServerError) IsPolicyRejection() bool {
	return e.Type == ErrTypeNotFriend
}
