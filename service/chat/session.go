package chat

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"PPRoom/logger"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the part of *websocket.Conn a Session drives. Close, WriteControl and
// SetReadDeadline may be called from any goroutine; reads and data writes each
// stay on their own goroutine.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type SessionState int32

const (
	StateActive SessionState = iota + 1
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type SessionConf struct {
	SendQueue         int
	ReadLimit         int64
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxDecodeFailures int
}

func (c *SessionConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 16
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Session is one live connection bound to one user and one room.
type Session struct {
	id   string
	user model.Identity
	room model.RoomID
	conn Conn
	conf SessionConf
	log  *zap.Logger

	mu          sync.Mutex
	state       SessionState
	closeReason error

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	createdAt        time.Time
	lastActivity     atomic.Int64 // unix nanos
	clock            func() time.Time
	presenceAttached atomic.Bool
}

func newSession(id string, user model.Identity, room model.RoomID, conn Conn, conf SessionConf, clock func() time.Time) *Session {
	conf.norm()
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	s := &Session{
		id:         id,
		user:       user,
		room:       room,
		conn:       conn,
		conf:       conf,
		state:      StateActive,
		send:       make(chan []byte, conf.SendQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		createdAt:  now,
		clock:      clock,
		log: logger.Log.With(
			zap.String("session", id),
			zap.Int64("user", int64(user.ID)),
			zap.Int64("room", int64(room)),
		),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) User() model.Identity  { return s.user }
func (s *Session) Room() model.RoomID    { return s.room }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the reason the session began closing; nil while active or after a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(s.clock().UnixNano())
}

// Enqueue queues an encoded frame without blocking. It fails with SessionClosed
// once the session left the active state, or SlowConsumer when the queue is full.
func (s *Session) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return errs.ErrSessionClosed.Wrap()
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errs.ErrSlowConsumer.WrapMsg("", "queue", cap(s.send))
	}
}

// Reply sends v to this session only. A full queue closes the session.
func (s *Session) Reply(v any) {
	if err := s.Enqueue(encodeEvent(v)); err != nil && errs.ErrSlowConsumer.Is(err) {
		s.Close(err)
	}
}

// Close moves the session to closing and wakes both loops. It never blocks and
// never releases the connection; the orchestrator does that after deregistration.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.closeReason = reason
		// unblock ReadMessage
		_ = s.conn.SetReadDeadline(s.clock())
		s.mu.Unlock()
		close(s.done)
	})
}

// extendReadDeadline pushes the read deadline out unless Close already pulled it in.
func (s *Session) extendReadDeadline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil
	}
	return s.conn.SetReadDeadline(s.clock().Add(s.conf.PongWait))
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// writePump is the only goroutine issuing data writes on the connection.
func (s *Session) writePump() {
	defer close(s.writerDone)
	ticker := time.NewTicker(s.conf.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(s.clock().Add(s.conf.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("[WS] write failed", zap.Error(err))
				s.Close(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), s.clock().Add(s.conf.WriteWait)); err != nil {
				s.log.Debug("[WS] ping failed", zap.Error(err))
				s.Close(err)
				return
			}
		case <-s.done:
			s.drain()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				s.clock().Add(s.conf.WriteWait))
			return
		}
	}
}

// drain flushes frames queued before the session started closing. It stops at
// the first failed write.
func (s *Session) drain() {
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(s.clock().Add(s.conf.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("[WS] drain write failed", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

// readLoop decodes inbound frames and dispatches them one at a time, so every
// event a frame produces is queued to all subscribers before the next frame is read.
func (s *Session) readLoop(ctx context.Context, d *Dispatcher) {
	s.conn.SetReadLimit(s.conf.ReadLimit)
	_ = s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.extendReadDeadline()
	})
	if s.State() != StateActive {
		return
	}

	failures := 0
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			s.Close(err)
			return
		}
		if s.State() != StateActive {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.touch()
		_ = s.extendReadDeadline()

		frame, err := ParseFrame(data)
		if err != nil {
			failures++
			s.log.Debug("[WS] bad frame", zap.Error(err), zap.Int("consecutive", failures))
			s.Reply(BuildError(err))
			if s.conf.MaxDecodeFailures > 0 && failures >= s.conf.MaxDecodeFailures {
				s.Close(errs.ErrMalformedFrame.WrapMsg("decode failure threshold reached"))
				return
			}
			continue
		}
		failures = 0

		if err := d.Dispatch(&Context{Context: ctx, Session: s}, frame); err != nil {
			if errs.ErrStorage.Is(err) {
				s.log.Error("[WS] frame failed", zap.String("kind", string(frame.Kind)), zap.Error(err))
			} else {
				s.log.Debug("[WS] frame rejected", zap.String("kind", string(frame.Kind)), zap.Error(err))
			}
			s.Reply(BuildError(err))
		}
	}
}

func (s *Session) logReadError(err error) {
	if s.State() != StateActive {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.log.Info("[WS] peer closed")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.log.Info("[WS] read timeout")
	} else {
		s.log.Info("[WS] read error", zap.Error(err))
	}
}
