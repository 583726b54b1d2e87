package chat

import (
	"sync"

	"PPRoom/logger"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"

	"go.uber.org/zap"
)

// RoomRegistry maps rooms to the local sessions subscribed to them.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[model.RoomID]*roomSubs
}

type roomSubs struct {
	refs int        // in-flight Join/Leave/Fanout/Sequence holders, guarded by RoomRegistry.mu
	seq  sync.Mutex // orders persist+fanout per room

	mu   sync.RWMutex
	subs map[*Session]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[model.RoomID]*roomSubs)}
}

// acquire returns the room entry and pins it so release cannot drop it concurrently.
func (r *RoomRegistry) acquire(room model.RoomID) *roomSubs {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.rooms[room]
	if rs == nil {
		rs = &roomSubs{subs: make(map[*Session]struct{})}
		r.rooms[room] = rs
	}
	rs.refs++
	return rs
}

func (r *RoomRegistry) release(room model.RoomID, rs *roomSubs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs.refs--
	if rs.refs > 0 {
		return
	}
	rs.mu.RLock()
	empty := len(rs.subs) == 0
	rs.mu.RUnlock()
	if empty {
		delete(r.rooms, room)
	}
}

// Join subscribes s to room. Joining twice is a no-op; a session only ever
// joins the room it was admitted to.
func (r *RoomRegistry) Join(room model.RoomID, s *Session) error {
	if s == nil {
		return errs.ErrSessionClosed.WrapMsg("nil session")
	}
	if s.Room() != room {
		return errs.ErrAccess.WrapMsg("session bound to another room", "room", room, "bound", s.Room())
	}
	rs := r.acquire(room)
	rs.mu.Lock()
	rs.subs[s] = struct{}{}
	rs.mu.Unlock()
	r.release(room, rs)
	return nil
}

// Leave unsubscribes s. Absent sessions are ignored; the last leaver removes the room.
func (r *RoomRegistry) Leave(room model.RoomID, s *Session) {
	rs := r.acquire(room)
	rs.mu.Lock()
	delete(rs.subs, s)
	rs.mu.Unlock()
	r.release(room, rs)
}

// Fanout queues payload on every subscriber except exclude and returns how many
// accepted it. A subscriber whose queue is full is closed, never waited on.
func (r *RoomRegistry) Fanout(room model.RoomID, payload []byte, exclude *Session) int {
	rs := r.acquire(room)
	defer r.release(room, rs)

	rs.mu.RLock()
	targets := make([]*Session, 0, len(rs.subs))
	for s := range rs.subs {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	rs.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		err := s.Enqueue(payload)
		if err == nil {
			delivered++
			continue
		}
		if errs.ErrSlowConsumer.Is(err) {
			logger.Log.Warn("[ROOM] slow consumer dropped",
				zap.Int64("room", int64(room)), zap.String("session", s.ID()))
			s.Close(err)
		}
	}
	return delivered
}

// Sequence runs fn while holding the room's ordering lock. Persisting a message
// and fanning it out inside one Sequence call keeps every subscriber's view in
// persistence order.
func (r *RoomRegistry) Sequence(room model.RoomID, fn func() error) error {
	rs := r.acquire(room)
	defer r.release(room, rs)
	rs.seq.Lock()
	defer rs.seq.Unlock()
	return fn()
}

// Members reports the subscriber count for room.
func (r *RoomRegistry) Members(room model.RoomID) int {
	r.mu.Lock()
	rs := r.rooms[room]
	r.mu.Unlock()
	if rs == nil {
		return 0
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.subs)
}

// Rooms reports how many rooms currently have an entry.
func (r *RoomRegistry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
