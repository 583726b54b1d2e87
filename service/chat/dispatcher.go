package chat

import (
	"context"

	"PPRoom/tools/errs"
)

// Context carries the request context and the session a frame arrived on.
type Context struct {
	context.Context
	Session *Session
}

type Handler interface {
	Kind() FrameKind
	Handle(c *Context, f Frame) error
}

// Dispatcher routes decoded frames by kind. Only the kinds the protocol defines
// can be registered; anything else is answered with UnrecognizedFrame.
type Dispatcher struct {
	handlers map[FrameKind]Handler
}

func NewDispatcher(hs ...Handler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[FrameKind]Handler, len(hs))}
	for _, h := range hs {
		d.Register(h)
	}
	return d
}

func (d *Dispatcher) Register(h Handler) {
	switch h.Kind() {
	case FrameChatMessage, FrameTyping, FrameMarkRead:
	default:
		panic("chat: handler for unknown frame kind " + string(h.Kind()))
	}
	d.handlers[h.Kind()] = h
}

func (d *Dispatcher) Dispatch(c *Context, f Frame) error {
	h, ok := d.handlers[f.Kind]
	if !ok {
		return errs.ErrUnrecognizedFrame.WrapMsg("", "type", f.Kind)
	}
	return h.Handle(c, f)
}
