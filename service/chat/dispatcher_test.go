package chat

import (
	"context"
	"testing"

	"PPRoom/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindHandler struct {
	kind  FrameKind
	calls int
}

func (h *kindHandler) Kind() FrameKind { return h.kind }
func (h *kindHandler) Handle(*Context, Frame) error {
	h.calls++
	return nil
}

func TestDispatcher_Routes(t *testing.T) {
	typing := &kindHandler{kind: FrameTyping}
	d := NewDispatcher(typing)
	c := &Context{Context: context.Background()}

	require.NoError(t, d.Dispatch(c, Frame{Kind: FrameTyping}))
	assert.Equal(t, 1, typing.calls)

	err := d.Dispatch(c, Frame{Kind: FrameMarkRead})
	assert.True(t, errs.ErrUnrecognizedFrame.Is(err), "registered kinds only")
	err = d.Dispatch(c, Frame{Kind: "shout"})
	assert.True(t, errs.ErrUnrecognizedFrame.Is(err))
}

func TestDispatcher_RejectsUnknownHandlerKind(t *testing.T) {
	assert.Panics(t, func() { NewDispatcher(&kindHandler{kind: "shout"}) })
}
