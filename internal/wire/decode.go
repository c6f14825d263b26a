package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrUnknownEvent is wrapped into decode errors for unrecognized event names.
// Callers log and drop such frames; they must never tear down the connection.
var ErrUnknownEvent = fmt.Errorf("unknown wire event")

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type directMessageJSON struct {
	ID             string `json:"id,omitempty"`
	FromUser       string `json:"fromUser"`
	ToUser         string `json:"toUser,omitempty"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

type groupMessageJSON struct {
	ID             string `json:"id,omitempty"`
	FromUser       string `json:"fromUser"`
	GroupID        int64  `json:"groupId"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

type messageSentJSON struct {
	ID        string `json:"id,omitempty"`
	ToUser    string `json:"toUser,omitempty"`
	GroupID   int64  `json:"groupId,omitempty"`
	Content   string `json:"content,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type responseJSON struct {
	MsgTopic string `json:"msg_topic,omitempty"`
	MsgType  string `json:"msg_type"`
	Msg      struct {
		ErrorType string `json:"error_type"`
		ErrorMsg  string `json:"error_msg"`
	} `json:"msg"`
}

type friendRequestJSON struct {
	FromUser     string `json:"fromUser,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
}

type groupUpdateJSON struct {
	GroupID  int64  `json:"groupId"`
	Action   string `json:"action,omitempty"`
	Username string `json:"username,omitempty"`
}

// Decode parses a raw frame into a typed Event. A nil Event with a nil
// error is returned for non-error "response" acknowledgements, which carry
// no information the client acts on.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventDirectMessage:
		var p directMessageJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return DirectMessage{
			ID:             p.ID,
			FromUser:       p.FromUser,
			ToUser:         p.ToUser,
			Content:        p.Content,
			Attachment:     p.Attachment,
			AttachmentType: p.AttachmentType,
			CreatedAt:      parseTime(p.CreatedAt),
		}, nil

	case EventGroupMessage:
		var p groupMessageJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return GroupMessage{
			ID:             p.ID,
			FromUser:       p.FromUser,
			GroupID:        p.GroupID,
			Content:        p.Content,
			Attachment:     p.Attachment,
			AttachmentType: p.AttachmentType,
			CreatedAt:      parseTime(p.CreatedAt),
		}, nil

	case EventMessageSent:
		var p messageSentJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return MessageSent{
			ID:        p.ID,
			ToUser:    p.ToUser,
			GroupID:   p.GroupID,
			Content:   p.Content,
			CreatedAt: parseTime(p.CreatedAt),
		}, nil

	case EventResponse:
		var p responseJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.MsgType != "error" {
			return nil, nil
		}
		return ServerError{
			Topic:   p.MsgTopic,
			Type:    p.Msg.ErrorType,
			Message: p.Msg.ErrorMsg,
		}, nil

	case EventFriendRequest:
		var p friendRequestJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return FriendRequest{
			FromUser:     p.FromUser,
			FromUsername: p.FromUsername,
		}, nil

	case EventGroupUpdate:
		var p groupUpdateJSON
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return GroupUpdate{
			GroupID:  p.GroupID,
			Action:   p.Action,
			Username: p.Username,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// parseTime accepts the server's RFC3339 createdAt; a missing or malformed
// value falls back to receive time so ordering still has something to sort on.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now()
	}
	return t
}
