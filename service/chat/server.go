package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"PPRoom/logger"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"
	"PPRoom/tools/ids"
	"PPRoom/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxCredentialLen bounds what is handed to the auth gateway.
const maxCredentialLen = 8 << 10

// Close codes sent when a handshake is refused after the upgrade.
const (
	CloseAuthFailed   = 4401
	CloseAccessDenied = 4403
)

type Options struct {
	NodeID   string
	Auth     AuthGateway
	Access   AccessGateway
	Messages MessageStore
	Presence PresenceStore
	Index    PresenceIndex // nil => in-process index
	Sinks    []EventSink

	Session        SessionConf
	StorageTimeout time.Duration
	IdleTimeout    time.Duration
	SweepEvery     time.Duration
	SinkQueue      int
	Clock          func() time.Time
	IDs            *ids.Generator // nil => package default generator
}

// Server owns every live session on this node and drives the handshake,
// dispatch and teardown of each one.
type Server struct {
	opts     Options
	rooms    *RoomRegistry
	presence *PresenceTracker
	connMgr  *ConnManager
	disp     *Dispatcher
	sinks    *Sinks

	mu      sync.Mutex
	closing bool
	live    sync.WaitGroup
}

func NewServer(o Options) *Server {
	safe.MustNotNil(o.Auth, "auth gateway")
	safe.MustNotNil(o.Access, "access gateway")
	safe.MustNotNil(o.Messages, "message store")
	safe.MustNotNil(o.Presence, "presence store")
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 5 * time.Second
	}

	s := &Server{opts: o, rooms: NewRoomRegistry()}
	s.sinks = NewSinks(o.SinkQueue, o.StorageTimeout, o.Sinks...)
	s.presence = NewPresenceTracker(PresenceConf{
		Index:   o.Index,
		Store:   o.Presence,
		Access:  o.Access,
		Rooms:   s.rooms,
		Sinks:   s.sinks,
		Timeout: o.StorageTimeout,
		Clock:   o.Clock,
	})
	s.connMgr = NewConnManager(ManagerConf{
		IdleTimeout: o.IdleTimeout,
		SweepEvery:  o.SweepEvery,
		Clock:       o.Clock,
		OnLive: func(sess *Session) {
			if err := s.presence.Touch(context.Background(), sess); err != nil {
				sess.log.Warn("[PRESENCE] touch failed", zap.Error(err))
			}
		},
	}, o.NodeID)
	s.disp = NewDispatcher(
		NewChatMessageHandler(o.Messages, s.rooms, s.sinks, o.StorageTimeout),
		NewTypingHandler(s.rooms),
		NewMarkReadHandler(o.Messages, o.StorageTimeout),
	)
	return s
}

func (s *Server) Rooms() *RoomRegistry       { return s.rooms }
func (s *Server) ConnMgr() *ConnManager      { return s.connMgr }
func (s *Server) Disp() *Dispatcher          { return s.disp }
func (s *Server) Presence() *PresenceTracker { return s.presence }

func (s *Server) newSessionID() string {
	if s.opts.IDs != nil {
		return strconv.FormatInt(s.opts.IDs.Next(), 10)
	}
	return ids.GenerateString()
}

// Authorize resolves the credential and checks room membership. It has no side
// effects, so a rejected handshake leaves nothing behind.
func (s *Server) Authorize(ctx context.Context, room model.RoomID, credential string) (model.Identity, error) {
	cred := strings.TrimSpace(credential)
	if cred == "" {
		return model.Identity{}, errs.ErrMissingCredential.Wrap()
	}
	if len(cred) > maxCredentialLen || strings.ContainsAny(cred, " \t\r\n") {
		return model.Identity{}, errs.ErrMissingCredential.WrapMsg("malformed credential")
	}

	actx, cancel := withTimeout(ctx, s.opts.StorageTimeout)
	who, err := s.opts.Auth.Resolve(actx, cred)
	cancel()
	if err != nil {
		if errs.ErrStorage.Is(err) {
			return model.Identity{}, err
		}
		return model.Identity{}, errs.ErrInvalidCredential.WrapMsg(err.Error())
	}

	actx, cancel = withTimeout(ctx, s.opts.StorageTimeout)
	ok, err := s.opts.Access.IsParticipant(actx, who.ID, room)
	cancel()
	if err != nil {
		return model.Identity{}, errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "is_participant", "room", room)
	}
	if !ok {
		return model.Identity{}, errs.ErrNotAParticipant.WrapMsg("", "user", who.ID, "room", room)
	}
	return who, nil
}

// Admit turns an authorized connection into an active session: it is tracked,
// joined to its room and counted online before its first frame is read. On
// error every step already taken is undone and conn is left to the caller.
func (s *Server) Admit(ctx context.Context, conn Conn, who model.Identity, room model.RoomID) (*Session, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, errs.ErrSessionClosed.WrapMsg("server shutting down")
	}
	s.live.Add(1)
	s.mu.Unlock()

	sess := newSession(s.newSessionID(), who, room, conn, s.opts.Session, s.opts.Clock)
	if err := s.connMgr.Add(sess); err != nil {
		s.live.Done()
		return nil, err
	}
	if err := s.rooms.Join(room, sess); err != nil {
		s.connMgr.Remove(sess)
		s.live.Done()
		return nil, err
	}
	if err := s.presence.MarkOnline(ctx, sess); err != nil {
		s.rooms.Leave(room, sess)
		s.connMgr.Remove(sess)
		s.live.Done()
		return nil, err
	}

	safe.Go("session-writer", sess.writePump, func(err error) { sess.Close(err) })

	// the backlog counts as seen once the user is in the room
	if _, err := markRead(ctx, s.opts.Messages, s.opts.StorageTimeout, room, who.ID); err != nil {
		sess.log.Warn("[WS] backlog mark-read failed", zap.Error(err))
	}
	sess.log.Info("[WS] session admitted", zap.String("username", who.Username))
	return sess, nil
}

// Accept runs the full handshake on an upgraded connection. A refused
// connection is closed with a close code matching the failure.
func (s *Server) Accept(ctx context.Context, conn Conn, room model.RoomID, credential string) (*Session, error) {
	who, err := s.Authorize(ctx, room, credential)
	if err != nil {
		rejectConn(conn, err, s.opts.Clock().Add(time.Second))
		return nil, err
	}
	sess, err := s.Admit(ctx, conn, who, room)
	if err != nil {
		rejectConn(conn, err, s.opts.Clock().Add(time.Second))
		return nil, err
	}
	return sess, nil
}

// Run reads frames until the peer leaves, the session is closed or ctx ends,
// then tears the session down. It returns once the connection is released.
func (s *Server) Run(ctx context.Context, sess *Session) {
	defer s.release(sess)
	stop := context.AfterFunc(ctx, func() {
		sess.Close(errs.ErrSessionClosed.WrapMsg("context done"))
	})
	defer stop()
	sess.readLoop(ctx, s.disp)
}

// Serve is Accept followed by Run.
func (s *Server) Serve(ctx context.Context, conn Conn, room model.RoomID, credential string) error {
	sess, err := s.Accept(ctx, conn, room, credential)
	if err != nil {
		return err
	}
	s.Run(ctx, sess)
	return nil
}

// release deregisters sess everywhere, then lets go of the connection.
func (s *Server) release(sess *Session) {
	defer s.live.Done()
	sess.Close(nil)

	s.rooms.Leave(sess.Room(), sess)
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StorageTimeout)
	_ = s.presence.MarkOffline(ctx, sess)
	cancel()
	s.connMgr.Remove(sess)

	<-sess.writerDone
	_ = sess.conn.Close()
	sess.markClosed()
	sess.log.Info("[WS] session closed", zap.NamedError("reason", sess.Err()))
}

// Shutdown refuses new sessions, closes the live ones and waits for their
// teardown, then flushes the sinks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	n := s.connMgr.CloseAll(errs.ErrSessionClosed.WrapMsg("server shutdown"))
	logger.Log.Info("[WS] shutting down", zap.Int("sessions", n))

	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.sinks.Close(ctx)
	return err
}

func rejectConn(conn Conn, err error, deadline time.Time) {
	code := websocket.CloseInternalServerErr
	switch {
	case errs.ErrAuth.Is(err):
		code = CloseAuthFailed
	case errs.ErrAccess.Is(err):
		code = CloseAccessDenied
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, errs.PublicMessage(err)), deadline)
	_ = conn.Close()
}
