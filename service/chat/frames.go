package chat

import (
	"encoding/json"
	"time"

	"PPRoom/module/chat/model"
	"PPRoom/tools/decode"
	"PPRoom/tools/errs"
)

// FrameKind is the closed set of client→server frame types.
type FrameKind string

const (
	FrameChatMessage FrameKind = "chat_message"
	FrameTyping      FrameKind = "typing"
	FrameMarkRead    FrameKind = "mark_read"
)

// EventKind is the set of server→client frame types.
type EventKind string

const (
	EventChatMessage EventKind = "chat_message"
	EventTyping      EventKind = "typing_indicator"
	EventUserStatus  EventKind = "user_status"
	EventMarkedRead  EventKind = "messages_marked_read"
	EventError       EventKind = "error"
)

const frameKindKey = "type"

// Frame is one decoded inbound frame. Payload fields stay in Raw until the
// handler for Kind decodes them.
type Frame struct {
	Kind FrameKind
	Raw  map[string]any
}

// ParseFrame decodes a JSON object frame. A frame without "type" is a chat
// message, which is what older clients send.
func ParseFrame(data []byte) (Frame, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, errs.ErrMalformedFrame.WrapMsg(err.Error())
	}
	if raw == nil {
		return Frame{}, errs.ErrMalformedFrame.WrapMsg("frame is not an object")
	}
	v, present := raw[frameKindKey]
	if !present || v == nil {
		return Frame{Kind: FrameChatMessage, Raw: raw}, nil
	}
	kind, ok := decode.ReadString(raw, frameKindKey)
	if !ok {
		return Frame{}, errs.ErrUnrecognizedFrame.WrapMsg("type is not a string")
	}
	return Frame{Kind: FrameKind(kind), Raw: raw}, nil
}

type ChatMessagePayload struct {
	Message string `json:"message"`
}

type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

func decodePayload[T any](f Frame) (*T, error) {
	p, err := decode.DecodeMap[T](f.Raw, decode.Options{
		WeaklyTypedInput: true,
		Ignore:           []string{frameKindKey},
	})
	if err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg(err.Error(), "kind", f.Kind)
	}
	return p, nil
}

// ---- server → client ----

type ChatMessageEvent struct {
	Type      EventKind       `json:"type"`
	MessageID model.MessageID `json:"message_id"`
	Message   string          `json:"message"`
	UserID    model.UserID    `json:"user_id"`
	Username  string          `json:"username"`
	Timestamp string          `json:"timestamp"`
}

type TypingEvent struct {
	Type     EventKind    `json:"type"`
	UserID   model.UserID `json:"user_id"`
	Username string       `json:"username"`
	IsTyping bool         `json:"is_typing"`
}

type UserStatusEvent struct {
	Type     EventKind    `json:"type"`
	UserID   model.UserID `json:"user_id"`
	Username string       `json:"username"`
	IsOnline bool         `json:"is_online"`
}

type MarkedReadEvent struct {
	Type   EventKind    `json:"type"`
	RoomID model.RoomID `json:"room_id"`
}

type ErrorEvent struct {
	Type    EventKind `json:"type"`
	Message string    `json:"message"`
}

func BuildChatMessage(rec model.MessageRecord) ChatMessageEvent {
	return ChatMessageEvent{
		Type:      EventChatMessage,
		MessageID: rec.ID,
		Message:   rec.Content,
		UserID:    rec.Author.ID,
		Username:  rec.Author.Username,
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func BuildTyping(who model.Identity, isTyping bool) TypingEvent {
	return TypingEvent{Type: EventTyping, UserID: who.ID, Username: who.Username, IsTyping: isTyping}
}

func BuildUserStatus(who model.Identity, online bool) UserStatusEvent {
	return UserStatusEvent{Type: EventUserStatus, UserID: who.ID, Username: who.Username, IsOnline: online}
}

func BuildMarkedRead(room model.RoomID) MarkedReadEvent {
	return MarkedReadEvent{Type: EventMarkedRead, RoomID: room}
}

// BuildError turns any error into the client-visible error frame.
func BuildError(err error) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: errs.PublicMessage(err)}
}

// fallbackError is sent if an event cannot be marshalled, which only happens on programmer error.
var fallbackError = []byte(`{"type":"error","message":"An error occurred"}`)

func encodeEvent(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return fallbackError
	}
	return b
}
