package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeDirectMessage(t *testing.T) {
	frame := []byte(`{"event":"directMessage","data":{"id":"42","fromUser":"alice","toUser":"bob","content":"hi","createdAt":"2026-03-01T10:00:00Z"}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	dm, ok := evt.(DirectMessage)
	if !ok {
		t.Fatalf("event type = %T, want DirectMessage", evt)
	}
	if dm.FromUser != "alice" || dm.ToUser != "bob" || dm.Content != "hi" || dm.ID != "42" {
		t.Errorf("decoded = %+v", dm)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !dm.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", dm.CreatedAt, want)
	}
}

func TestDecodeMissingCreatedAtFallsBackToNow(t *testing.T) {
	frame := []byte(`{"event":"directMessage","data":{"fromUser":"alice","content":"hi"}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	dm := evt.(DirectMessage)
	if time.Since(dm.CreatedAt) > time.Minute {
		t.Errorf("CreatedAt = %v, expected receive-time fallback", dm.CreatedAt)
	}
}

func TestDecodeGroupMessage(t *testing.T) {
	frame := []byte(`{"event":"groupMessage","data":{"fromUser":"carol","groupId":7,"content":"yo","attachment":"http://x/y.png","attachmentType":"image"}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	gm, ok := evt.(GroupMessage)
	if !ok {
		t.Fatalf("event type = %T, want GroupMessage", evt)
	}
	if gm.GroupID != 7 || gm.Attachment != "http://x/y.png" || gm.AttachmentType != "image" {
		t.Errorf("decoded = %+v", gm)
	}
}

func TestDecodeNotFriendError(t *testing.T) {
	frame := []byte(`{"event":"response","data":{"msg_topic":"directMessage","msg_type":"error","msg":{"error_type":"not_friend","error_msg":"you are not friends with this user"}}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	se, ok := evt.(ServerError)
	if !ok {
		t.Fatalf("event type = %T, want ServerError", evt)
	}
	if !se.IsPolicyRejection() {
		t.Error("not_friend should be a policy rejection")
	}
	if se.Topic != "directMessage" {
		t.Errorf("Topic = %q", se.Topic)
	}
	if se.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestDecodeGenericErrorIsNotPolicy(t *testing.T) {
	frame := []byte(`{"event":"response","data":{"msg_type":"error","msg":{"error_type":"internal","error_msg":"boom"}}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	se := evt.(ServerError)
	if se.IsPolicyRejection() {
		t.Error("generic error misclassified as policy rejection")
	}
}

func TestDecodeNonErrorResponseIsDropped(t *testing.T) {
	frame := []byte(`{"event":"response","data":{"msg_type":"ok","msg":{}}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt != nil {
		t.Errorf("event = %v, want nil for non-error response", evt)
	}
}

func TestDecodeMessageSent(t *testing.T) {
	frame := []byte(`{"event":"messageSent","data":{"id":"srv-9","toUser":"bob","content":"hi","createdAt":"2026-03-01T10:00:01Z"}}`)

	evt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	ms, ok := evt.(MessageSent)
	if !ok {
		t.Fatalf("event type = %T, want MessageSent", evt)
	}
	if ms.ID != "srv-9" || ms.ToUser != "bob" {
		t.Errorf("decoded = %+v", ms)
	}
}

func TestDecodeFriendRequestAndGroupUpdate(t *testing.T) {
	evt, err := Decode([]byte(`{"event":"friendRequest","data":{"fromUsername":"dave"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if fr, ok := evt.(FriendRequest); !ok || fr.FromUsername != "dave" {
		t.Errorf("decoded = %#v", evt)
	}

	evt, err = Decode([]byte(`{"event":"groupUpdate","data":{"groupId":3,"action":"joined","username":"dave"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if gu, ok := evt.(GroupUpdate); !ok || gu.GroupID != 3 || gu.Action != "joined" {
		t.Errorf("decoded = %#v", evt)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"event":"presence","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, err := Decode([]byte(`{"event":`)); err == nil {
		t.Error("malformed frame should error")
	}
	if _, err := Decode([]byte(`{"event":"directMessage","data":"not-an-object"}`)); err == nil {
		t.Error("malformed payload should error")
	}
}

func TestEncodeDirectMessageCommand(t *testing.T) {
	data, err := Encode(DirectMessageCommand{ToUser: "bob", Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventDirectMessage {
		t.Errorf("event = %q", env.Event)
	}
	var payload map[string]any
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["toUser"] != "bob" || payload["content"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
	if _, present := payload["attachment"]; present {
		t.Error("empty attachment should be omitted")
	}
}

func TestEncodeGroupAndFriendCommands(t *testing.T) {
	data, err := Encode(GroupMessageCommand{GroupID: 12, Content: "all hands"})
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventGroupMessage {
		t.Errorf("event = %q", env.Event)
	}

	data, err = Encode(FriendRequestCommand{ToUsername: "dave"})
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventFriendRequest {
		t.Errorf("event = %q", env.Event)
	}
}
