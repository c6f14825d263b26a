package wire

import "encoding/json"

// Command is a client-to-server frame.
type Command interface {
	command() string
}

// DirectMessageCommand sends a message to a single user.
type DirectMessageCommand struct {
	ToUser         string `json:"toUser"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
}

// GroupMessageCommand sends a message to a group.
type GroupMessageCommand struct {
	GroupID        int64  `json:"groupId"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
}

// FriendRequestCommand asks the server to create a friend request.
type FriendRequestCommand struct {
	ToUsername string `json:"toUsername"`
}

func (DirectMessageCommand) command() string { return EventDirectMessage }
func (GroupMessageCommand) command() string  { return EventGroupMessage }
func (FriendRequestCommand) command() string { return EventFriendRequest }

// Encode wraps a command in the wire envelope.
func Encode(cmd Command) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{
		Event: cmd.command(),
		Data:  cmd,
	})
}
