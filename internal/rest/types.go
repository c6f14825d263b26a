package rest

// DirectMessageRecord is a stored message row as the history endpoint
// returns it. User references are numeric server ids.
type DirectMessageRecord struct {
	ID             int64  `json:"id"`
	FromUser       int64  `json:"fromUser"`
	ToUser         int64  `json:"toUser"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type Group struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Owner   int64         `json:"owner"`
	Members []GroupMember `json:"members,omitempty"`
}

type GroupMember struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type FriendRequestRecord struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Status    string `json:"status"`
}
