package chat

import (
	"context"
	"testing"
	"time"

	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"
	"PPRoom/tools/security"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_TwoUsersConversation(t *testing.T) {
	h := newHarness(t)

	a := h.connect(1, "alice", 42)
	b := h.connect(2, "bob", 42)

	// A learns that B came online; B hears nothing about itself.
	st := a.conn.next(t)
	assert.Equal(t, "user_status", st["type"])
	assert.EqualValues(t, 2, st["user_id"])
	assert.Equal(t, "bob", st["username"])
	assert.Equal(t, true, st["is_online"])
	b.conn.quiet(t, 50*time.Millisecond)

	a.conn.sendJSON(t, map[string]any{"type": "chat_message", "message": "  hello  "})
	ma, mb := a.conn.next(t), b.conn.next(t)
	assert.Equal(t, "chat_message", ma["type"])
	assert.Equal(t, "hello", ma["message"])
	assert.Equal(t, "alice", ma["username"])
	assert.EqualValues(t, 1, ma["user_id"])
	assert.Equal(t, ma, mb)

	msgs := h.store.Messages(42)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, msgs[0].ID, ma["message_id"])
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsRead)

	a.conn.sendJSON(t, map[string]any{"type": "typing", "is_typing": true})
	ty := b.conn.next(t)
	assert.Equal(t, "typing_indicator", ty["type"])
	assert.Equal(t, true, ty["is_typing"])
	assert.Equal(t, "alice", ty["username"])
	a.conn.quiet(t, 50*time.Millisecond)

	b.conn.sendJSON(t, map[string]any{"type": "mark_read"})
	mr := b.conn.next(t)
	assert.Equal(t, "messages_marked_read", mr["type"])
	assert.EqualValues(t, 42, mr["room_id"])
	assert.True(t, h.store.Messages(42)[0].IsRead)
	a.conn.quiet(t, 50*time.Millisecond)

	// repeating mark_read is harmless
	b.conn.sendJSON(t, map[string]any{"type": "mark_read"})
	assert.Equal(t, mr, b.conn.next(t))

	b.conn.peerClose()
	b.wait(t)
	off := a.conn.next(t)
	assert.Equal(t, "user_status", off["type"])
	assert.EqualValues(t, 2, off["user_id"])
	assert.Equal(t, false, off["is_online"])

	rec, ok := h.store.Presence(2)
	require.True(t, ok)
	assert.False(t, rec.IsOnline)
	assert.Equal(t, 1, h.srv.Rooms().Members(42))
	assert.True(t, b.conn.isClosed())
	assert.Equal(t, StateClosed, b.sess.State())
}

func TestServer_FrameErrors(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"whitespace message", `{"type":"chat_message","message":"   "}`, "Message cannot be empty"},
		{"missing message", `{"type":"chat_message"}`, "Message cannot be empty"},
		{"invalid json", `{"type":`, "Invalid JSON format"},
		{"not an object", `[1,2]`, "Invalid JSON format"},
		{"unknown type", `{"type":"dance"}`, "Unrecognized frame type"},
		{"non-string type", `{"type":7}`, "Unrecognized frame type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.conn.sendRaw(tt.frame)
			got := a.conn.next(t)
			assert.Equal(t, "error", got["type"])
			assert.Equal(t, tt.want, got["message"])
		})
	}
	assert.Empty(t, h.store.Messages(42))
	assert.Equal(t, StateActive, a.sess.State())
}

func TestServer_MissingTypeIsChatMessage(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)

	a.conn.sendRaw(`{"message":"legacy"}`)
	got := a.conn.next(t)
	assert.Equal(t, "chat_message", got["type"])
	assert.Equal(t, "legacy", got["message"])
}

func TestServer_MessageOrdering(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	b := h.connect(2, "bob", 42)
	a.conn.next(t) // bob online

	const n = 30
	for i := 0; i < n; i++ {
		a.conn.sendJSON(t, map[string]any{"message": "m"})
	}
	var last float64
	for i := 0; i < n; i++ {
		got := b.conn.next(t)
		id := got["message_id"].(float64)
		assert.Greater(t, id, last)
		last = id
	}
	assert.Len(t, h.store.Messages(42), n)
}

func TestServer_HandshakeRejections(t *testing.T) {
	h := newHarness(t)

	expiredOpts := security.DefaultOptions(testSecret)
	expiredOpts.TTL = time.Nanosecond
	expired, _, err := security.Generate(expiredOpts, 1, "alice")
	require.NoError(t, err)
	refresh, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, security.Claims{
		UserID:    1,
		Username:  "alice",
		TokenType: "refresh",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name  string
		room  model.RoomID
		token string
		want  *errs.CodeError
		code  int
	}{
		{"missing", 42, "", errs.ErrMissingCredential, CloseAuthFailed},
		{"malformed", 42, "a b", errs.ErrMissingCredential, CloseAuthFailed},
		{"garbage", 42, "xyz", errs.ErrInvalidCredential, CloseAuthFailed},
		{"expired", 42, expired, errs.ErrInvalidCredential, CloseAuthFailed},
		{"refresh token", 42, refresh, errs.ErrInvalidCredential, CloseAuthFailed},
		{"unknown user", 42, h.token(99, "ghost"), errs.ErrInvalidCredential, CloseAuthFailed},
		{"not a participant", 42, h.token(3, "carol"), errs.ErrNotAParticipant, CloseAccessDenied},
		{"unknown room", 777, h.token(1, "alice"), errs.ErrNotAParticipant, CloseAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := h.dial(tt.room, tt.token)
			require.Error(t, err)
			assert.True(t, tt.want.Is(err), "got %v", err)
			assert.True(t, c.conn.isClosed())
			assert.Equal(t, []int{tt.code}, c.conn.codes())
		})
	}

	// no side effects from any refused handshake
	assert.Equal(t, 0, h.srv.ConnMgr().Len())
	assert.Equal(t, 0, h.srv.Rooms().Rooms())
	_, ok := h.store.Presence(3)
	assert.False(t, ok)
	_, ok = h.store.Presence(1)
	assert.False(t, ok)
}

func TestServer_MultipleSessionsOneUser(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	b1 := h.connect(2, "bob", 42)
	assert.Equal(t, true, a.conn.next(t)["is_online"])

	// second bob session, in the direct room: no new transition
	b2 := h.connect(2, "bob", 43)
	a.conn.quiet(t, 50*time.Millisecond)

	b1.conn.peerClose()
	b1.wait(t)
	a.conn.quiet(t, 50*time.Millisecond)
	rec, _ := h.store.Presence(2)
	assert.True(t, rec.IsOnline)

	b2.conn.peerClose()
	b2.wait(t)
	off := a.conn.next(t)
	assert.Equal(t, false, off["is_online"])
	rec, _ = h.store.Presence(2)
	assert.False(t, rec.IsOnline)
}

func TestServer_PresenceReachesAllRoomsOfUser(t *testing.T) {
	h := newHarness(t)
	a42 := h.connect(1, "alice", 42)
	a43 := h.connect(1, "alice", 43)

	h.connect(2, "bob", 42)
	// bob belongs to both rooms, so both of alice's sessions hear it
	assert.Equal(t, "bob", a42.conn.next(t)["username"])
	assert.Equal(t, "bob", a43.conn.next(t)["username"])
}

func TestServer_BacklogMarkedReadOnJoin(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	a.conn.sendJSON(t, map[string]any{"message": "while you were away"})
	a.conn.next(t)
	require.False(t, h.store.Messages(42)[0].IsRead)

	h.connect(2, "bob", 42)
	assert.True(t, h.store.Messages(42)[0].IsRead)
}

type failingMessages struct {
	MessageStore
	fail bool
}

func (f *failingMessages) Create(ctx context.Context, room model.RoomID, author model.Identity, content string) (model.MessageRecord, error) {
	if f.fail {
		return model.MessageRecord{}, errors.New("db down")
	}
	return f.MessageStore.Create(ctx, room, author, content)
}

func TestServer_StorageFailureKeepsSession(t *testing.T) {
	fm := &failingMessages{fail: true}
	h := newHarness(t, func(o *Options) { o.Messages = fm })
	fm.MessageStore = h.store

	a := h.connect(1, "alice", 42)
	b := h.connect(2, "bob", 42)
	a.conn.next(t)

	a.conn.sendJSON(t, map[string]any{"message": "lost"})
	got := a.conn.next(t)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "An error occurred", got["message"])
	b.conn.quiet(t, 50*time.Millisecond)

	fm.fail = false
	a.conn.sendJSON(t, map[string]any{"message": "kept"})
	assert.Equal(t, "kept", b.conn.next(t)["message"])
	assert.Equal(t, StateActive, a.sess.State())
}

type failingPresence struct{}

func (failingPresence) SetOnline(context.Context, model.UserID, bool, time.Time) error {
	return errors.New("db down")
}

func TestServer_PresencePersistFailureSkipsBroadcast(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Presence = failingPresence{} })
	a := h.connect(1, "alice", 42)
	h.connect(2, "bob", 42)
	a.conn.quiet(t, 100*time.Millisecond)
}

type failingIndex struct{ LocalPresenceIndex }

func (*failingIndex) Attach(context.Context, model.UserID, string) (int, error) {
	return 0, errors.New("redis down")
}

func TestServer_IndexFailureAbortsHandshake(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Index = &failingIndex{} })
	c, err := h.dial(42, h.token(1, "alice"))
	require.Error(t, err)
	assert.True(t, errs.ErrStorage.Is(err))
	assert.True(t, c.conn.isClosed())
	assert.Equal(t, 0, h.srv.Rooms().Members(42))
	assert.Equal(t, 0, h.srv.ConnMgr().Len())
}

func TestServer_DecodeFailureThreshold(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Session.MaxDecodeFailures = 2 })
	a := h.connect(1, "alice", 42)

	a.conn.sendRaw("nope")
	a.conn.next(t)
	a.conn.sendRaw(`{"message":"ok"}`) // resets the streak
	a.conn.next(t)
	a.conn.sendRaw("nope")
	a.conn.next(t)
	assert.Equal(t, StateActive, a.sess.State())
	a.conn.sendRaw("nope")
	a.wait(t)
	assert.True(t, errs.ErrMalformedFrame.Is(a.sess.Err()))
	// the reply to the frame that hit the limit is flushed before the close
	last := a.conn.next(t)
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "Invalid JSON format", last["message"])
}

func TestServer_DecodeFailureReplyFlushedOnClose(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Session.MaxDecodeFailures = 1 })
	for i := 0; i < 50; i++ {
		a := h.connect(1, "alice", 42)
		a.conn.sendRaw("nope")
		a.wait(t)
		m := a.conn.next(t)
		require.Equal(t, "error", m["type"], "run %d", i)
	}
}

func TestServer_WriteFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	a.conn.mu.Lock()
	a.conn.writeErr = errors.New("broken pipe")
	a.conn.mu.Unlock()

	a.conn.sendJSON(t, map[string]any{"message": "x"})
	a.wait(t)
	assert.Equal(t, 0, h.srv.Rooms().Members(42))
	rec, _ := h.store.Presence(1)
	assert.False(t, rec.IsOnline)
}

func TestServer_PongRefreshesActivity(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	eventually(t, func() bool {
		a.conn.mu.Lock()
		defer a.conn.mu.Unlock()
		return a.conn.pong != nil
	}, "pong handler installed")

	before := a.sess.LastActivity()
	time.Sleep(2 * time.Millisecond)
	a.conn.mu.Lock()
	pong := a.conn.pong
	a.conn.mu.Unlock()
	require.NoError(t, pong(""))
	assert.True(t, a.sess.LastActivity().After(before))
}

func TestServer_Shutdown(t *testing.T) {
	h := newHarness(t)
	a := h.connect(1, "alice", 42)
	b := h.connect(2, "bob", 42)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	a.wait(t)
	b.wait(t)
	assert.True(t, a.conn.isClosed())
	assert.Contains(t, a.conn.codes(), 1000)
	assert.Equal(t, 0, h.srv.ConnMgr().Len())
	assert.Equal(t, 0, h.srv.Rooms().Rooms())
	for _, uid := range []model.UserID{1, 2} {
		rec, ok := h.store.Presence(uid)
		require.True(t, ok)
		assert.False(t, rec.IsOnline)
	}

	_, err := h.dial(42, h.token(1, "alice"))
	require.Error(t, err)
	assert.True(t, errs.ErrSessionClosed.Is(err))
}

func TestServer_RunStopsOnContext(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	sess, err := h.srv.Accept(context.Background(), conn, 42, h.token(1, "alice"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.srv.Run(ctx, sess)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateClosed, sess.State())
}

type recordingSink struct {
	ch chan RoomEvent
}

func (r *recordingSink) Name() string { return "rec" }
func (r *recordingSink) Publish(_ context.Context, ev RoomEvent) error {
	r.ch <- ev
	return nil
}

func TestServer_EventsReachSinks(t *testing.T) {
	rs := &recordingSink{ch: make(chan RoomEvent, 16)}
	h := newHarness(t, func(o *Options) { o.Sinks = []EventSink{rs} })

	a := h.connect(1, "alice", 42)
	a.conn.sendJSON(t, map[string]any{"message": "to the bus"})
	a.conn.next(t)

	var kinds []EventKind
	for len(kinds) < 3 {
		select {
		case ev := <-rs.ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(waitFor):
			t.Fatalf("got only %v", kinds)
		}
	}
	// alice online in both of her rooms, then the message
	assert.Equal(t, []EventKind{EventUserStatus, EventUserStatus, EventChatMessage}, kinds)
}
