package chat

import (
	"context"
	"strings"
	"time"

	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"
)

// ChatMessageHandler persists a message and broadcasts it to the whole room,
// sender included.
type ChatMessageHandler struct {
	store   MessageStore
	rooms   *RoomRegistry
	sinks   *Sinks
	timeout time.Duration
}

func NewChatMessageHandler(store MessageStore, rooms *RoomRegistry, sinks *Sinks, timeout time.Duration) *ChatMessageHandler {
	return &ChatMessageHandler{store: store, rooms: rooms, sinks: sinks, timeout: timeout}
}

func (h *ChatMessageHandler) Kind() FrameKind { return FrameChatMessage }

func (h *ChatMessageHandler) Handle(c *Context, f Frame) error {
	p, err := decodePayload[ChatMessagePayload](f)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(p.Message)
	if content == "" {
		return errs.ErrEmptyContent.Wrap()
	}

	s := c.Session
	room := s.Room()
	return h.rooms.Sequence(room, func() error {
		ctx, cancel := withTimeout(c, h.timeout)
		rec, err := h.store.Create(ctx, room, s.User(), content)
		cancel()
		if err != nil {
			return errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "create_message", "room", room)
		}
		payload := encodeEvent(BuildChatMessage(rec))
		h.rooms.Fanout(room, payload, nil)
		h.sinks.Publish(RoomEvent{Room: room, Kind: EventChatMessage, Payload: payload, At: rec.Timestamp})
		return nil
	})
}

// TypingHandler relays a typing indicator to everyone in the room but the sender.
// Nothing is stored.
type TypingHandler struct {
	rooms *RoomRegistry
}

func NewTypingHandler(rooms *RoomRegistry) *TypingHandler {
	return &TypingHandler{rooms: rooms}
}

func (h *TypingHandler) Kind() FrameKind { return FrameTyping }

func (h *TypingHandler) Handle(c *Context, f Frame) error {
	p, err := decodePayload[TypingPayload](f)
	if err != nil {
		return err
	}
	s := c.Session
	payload := encodeEvent(BuildTyping(s.User(), p.IsTyping))
	return h.rooms.Sequence(s.Room(), func() error {
		h.rooms.Fanout(s.Room(), payload, s)
		return nil
	})
}

// MarkReadHandler marks every message in the room not authored by the sender
// as read and confirms to the sender only. Repeating it is harmless.
type MarkReadHandler struct {
	store   MessageStore
	timeout time.Duration
}

func NewMarkReadHandler(store MessageStore, timeout time.Duration) *MarkReadHandler {
	return &MarkReadHandler{store: store, timeout: timeout}
}

func (h *MarkReadHandler) Kind() FrameKind { return FrameMarkRead }

func (h *MarkReadHandler) Handle(c *Context, _ Frame) error {
	s := c.Session
	if _, err := markRead(c, h.store, h.timeout, s.Room(), s.User().ID); err != nil {
		return err
	}
	s.Reply(BuildMarkedRead(s.Room()))
	return nil
}

func markRead(ctx context.Context, store MessageStore, timeout time.Duration, room model.RoomID, user model.UserID) (int64, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	n, err := store.MarkReadExcluding(ctx, room, user)
	if err != nil {
		return 0, errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "mark_read", "room", room)
	}
	return n, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
