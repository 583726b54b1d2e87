package chat

import (
	"context"
	"sync"
	"time"

	"PPRoom/logger"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"

	"go.uber.org/zap"
)

const (
	presenceStripes = 64
	detachAttempts  = 3
	detachBackoff   = 50 * time.Millisecond
)

// PresenceTracker turns per-session arrivals and departures into per-user
// online/offline transitions. Only the first arrival and the last departure of
// a user change the stored record and produce a user_status broadcast.
type PresenceTracker struct {
	index   PresenceIndex
	store   PresenceStore
	access  AccessGateway
	rooms   *RoomRegistry
	sinks   *Sinks
	timeout time.Duration
	clock   func() time.Time

	stripes [presenceStripes]sync.Mutex

	mu       sync.Mutex
	lastSeen map[model.UserID]time.Time
}

type PresenceConf struct {
	Index   PresenceIndex
	Store   PresenceStore
	Access  AccessGateway
	Rooms   *RoomRegistry
	Sinks   *Sinks
	Timeout time.Duration
	Clock   func() time.Time
}

func NewPresenceTracker(c PresenceConf) *PresenceTracker {
	if c.Index == nil {
		c.Index = NewLocalPresenceIndex()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &PresenceTracker{
		index:    c.Index,
		store:    c.Store,
		access:   c.Access,
		rooms:    c.Rooms,
		sinks:    c.Sinks,
		timeout:  c.Timeout,
		clock:    c.Clock,
		lastSeen: make(map[model.UserID]time.Time),
	}
}

func (p *PresenceTracker) lock(user model.UserID) *sync.Mutex {
	m := &p.stripes[uint64(user)%presenceStripes]
	m.Lock()
	return m
}

// MarkOnline counts s towards its user's live sessions. An index failure is
// returned so the handshake can be aborted; a store failure only skips the broadcast.
func (p *PresenceTracker) MarkOnline(ctx context.Context, s *Session) error {
	uid := s.User().ID
	m := p.lock(uid)
	defer m.Unlock()

	ictx, cancel := withTimeout(ctx, p.timeout)
	n, err := p.index.Attach(ictx, uid, s.ID())
	cancel()
	if err != nil {
		return errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "presence_attach", "user", uid)
	}
	s.presenceAttached.Store(true)
	if n == 1 {
		p.transition(ctx, s, true)
	}
	return nil
}

// MarkOffline removes s from its user's live sessions. It acts at most once per
// session however many times teardown calls it. When the index keeps failing
// the user is persisted offline anyway; a stale index entry ages out by TTL.
func (p *PresenceTracker) MarkOffline(ctx context.Context, s *Session) error {
	uid := s.User().ID
	m := p.lock(uid)
	defer m.Unlock()
	if !s.presenceAttached.Load() {
		return nil
	}

	var (
		n   int
		err error
	)
	for i := 0; i < detachAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(detachBackoff):
			}
		}
		ictx, cancel := withTimeout(ctx, p.timeout)
		n, err = p.index.Detach(ictx, uid, s.ID())
		cancel()
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	s.presenceAttached.Store(false)
	if err != nil {
		logger.Log.Error("[PRESENCE] detach failed, forcing offline", zap.Int64("user", int64(uid)), zap.Error(err))
		p.transition(ctx, s, false)
		p.forget(uid)
		return errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "presence_detach", "user", uid)
	}
	if n == 0 {
		p.transition(ctx, s, false)
		p.forget(uid)
	}
	return nil
}

// Touch refreshes the index entry of a live session.
func (p *PresenceTracker) Touch(ctx context.Context, s *Session) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	return p.index.Touch(ctx, s.User().ID, s.ID())
}

// stamp returns a last_seen value that never goes backwards for a user.
func (p *PresenceTracker) stamp(user model.UserID) time.Time {
	now := p.clock().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.lastSeen[user]; ok && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	p.lastSeen[user] = now
	return now
}

// forget drops the user's stamp once no session is left. The stores keep
// last_seen from moving backwards across reconnects.
func (p *PresenceTracker) forget(user model.UserID) {
	p.mu.Lock()
	delete(p.lastSeen, user)
	p.mu.Unlock()
}

// transition runs with the user's stripe held.
func (p *PresenceTracker) transition(ctx context.Context, s *Session, online bool) {
	who := s.User()
	at := p.stamp(who.ID)

	sctx, cancel := withTimeout(ctx, p.timeout)
	err := p.store.SetOnline(sctx, who.ID, online, at)
	cancel()
	if err != nil {
		logger.Log.Error("[PRESENCE] persist failed, broadcast skipped",
			zap.Int64("user", int64(who.ID)), zap.Bool("online", online), zap.Error(err))
		return
	}

	payload := encodeEvent(BuildUserStatus(who, online))
	for _, room := range p.roomsOf(ctx, s) {
		_ = p.rooms.Sequence(room, func() error {
			p.rooms.Fanout(room, payload, s)
			p.sinks.Publish(RoomEvent{Room: room, Kind: EventUserStatus, Payload: payload, At: at})
			return nil
		})
	}
}

func (p *PresenceTracker) roomsOf(ctx context.Context, s *Session) []model.RoomID {
	if p.access == nil {
		return []model.RoomID{s.Room()}
	}
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	rooms, err := p.access.RoomsOf(ctx, s.User().ID)
	if err != nil {
		logger.Log.Warn("[PRESENCE] rooms lookup failed, using session room",
			zap.Int64("user", int64(s.User().ID)), zap.Error(err))
		return []model.RoomID{s.Room()}
	}
	return rooms
}

// LocalPresenceIndex counts sessions in process memory. It is exact for a
// single node; multi-node deployments use the Redis index.
type LocalPresenceIndex struct {
	mu    sync.Mutex
	users map[model.UserID]map[string]struct{}
}

func NewLocalPresenceIndex() *LocalPresenceIndex {
	return &LocalPresenceIndex{users: make(map[model.UserID]map[string]struct{})}
}

func (l *LocalPresenceIndex) Attach(_ context.Context, user model.UserID, sessionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.users[user]
	if set == nil {
		set = make(map[string]struct{})
		l.users[user] = set
	}
	set[sessionID] = struct{}{}
	return len(set), nil
}

func (l *LocalPresenceIndex) Detach(_ context.Context, user model.UserID, sessionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.users[user]
	delete(set, sessionID)
	n := len(set)
	if n == 0 {
		delete(l.users, user)
	}
	return n, nil
}

func (l *LocalPresenceIndex) Touch(context.Context, model.UserID, string) error { return nil }

func (l *LocalPresenceIndex) Count(user model.UserID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users[user])
}
