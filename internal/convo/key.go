package convo

import (
	"fmt"
	"strings"
)

// Key identifies one conversation timeline: either a direct pair or a group.
// Direct keys are order-independent, so the same two participants always
// resolve to the same timeline no matter which side initiated.
type Key struct {
	groupID int64
	userA   string // lexicographically smaller participant
	userB   string
}

// DirectKey builds the key for a one-to-one conversation.
func DirectKey(a, b string) Key {
	if a > b {
		a, b = b, a
	}
	return Key{userA: a, userB: b}
}

// GroupKey builds the key for a group conversation.
func GroupKey(id int64) Key {
	return Key{groupID: id}
}

// IsGroup reports whether the key addresses a group conversation.
func (k Key) IsGroup() bool {
	return k.groupID != 0
}

// GroupID returns the group identifier, or zero for direct keys.
func (k Key) GroupID() int64 {
	return k.groupID
}

// Peer returns the other participant of a direct conversation, given our
// own identifier. Returns empty for group keys.
func (k Key) Peer(self string) string {
	switch {
	case k.IsGroup():
		return ""
	case k.userA == self:
		return k.userB
	default:
		return k.userA
	}
}

// Participants returns the two direct participants in normalized order.
func (k Key) Participants() (string, string) {
	return k.userA, k.userB
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k.groupID == 0 && k.userA == "" && k.userB == ""
}

// String renders a stable map/log form: "d:<a>|<b>" or "g:<id>".
func (k Key) String() string {
	if k.IsGroup() {
		return fmt.Sprintf("g:%d", k.groupID)
	}
	var sb strings.Builder
	sb.WriteString("d:")
	sb.WriteString(k.userA)
	sb.WriteByte('|')
	sb.WriteString(k.userB)
	return sb.String()
}
