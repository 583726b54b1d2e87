package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"PPRoom/module/chat/model"
)

// MemoryStore keeps users, rooms, messages and presence in process memory.
// It backs the "memory" store driver and the test suites.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[model.UserID]memUser
	rooms    map[model.RoomID]*model.Room
	messages map[model.RoomID][]*model.MessageRecord
	presence map[model.UserID]model.PresenceRecord
	nextMsg  model.MessageID
	clock    func() time.Time
}

type memUser struct {
	ident  model.Identity
	active bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[model.UserID]memUser),
		rooms:    make(map[model.RoomID]*model.Room),
		messages: make(map[model.RoomID][]*model.MessageRecord),
		presence: make(map[model.UserID]model.PresenceRecord),
		clock:    time.Now,
	}
}

// SetClock replaces the timestamp source (tests).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.clock = now
	s.mu.Unlock()
}

func (s *MemoryStore) AddUser(id model.UserID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = memUser{ident: model.Identity{ID: id, Username: username}, active: true}
}

func (s *MemoryStore) DeactivateUser(id model.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.active = false
		s.users[id] = u
	}
}

// AddRoom creates or replaces a room with the given participants.
func (s *MemoryStore) AddRoom(id model.RoomID, name string, typ model.RoomType, participants ...model.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id] = &model.Room{
		ID:           id,
		Name:         name,
		Type:         typ,
		Participants: append([]model.UserID(nil), participants...),
		CreatedAt:    s.clock(),
	}
}

func (s *MemoryStore) UserByID(_ context.Context, id model.UserID) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !u.active {
		return model.Identity{}, ErrNotFound
	}
	return u.ident, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, user model.UserID, room model.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return false, nil
	}
	return r.HasParticipant(user), nil
}

func (s *MemoryStore) RoomsOf(_ context.Context, user model.UserID) ([]model.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RoomID
	for id, r := range s.rooms {
		if r.HasParticipant(user) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, room model.RoomID, author model.Identity, content string) (model.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return model.MessageRecord{}, ErrNotFound
	}
	if strings.TrimSpace(content) == "" {
		return model.MessageRecord{}, ErrEmptyContent
	}
	s.nextMsg++
	rec := &model.MessageRecord{
		ID:        s.nextMsg,
		RoomID:    room,
		Author:    author,
		Content:   content,
		Timestamp: s.clock().UTC(),
	}
	s.messages[room] = append(s.messages[room], rec)
	return *rec, nil
}

func (s *MemoryStore) MarkReadExcluding(_ context.Context, room model.RoomID, user model.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages[room] {
		if !m.IsRead && m.Author.ID != user {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, user model.UserID, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.presence[user]
	rec.UserID = user
	rec.IsOnline = online
	if at.After(rec.LastSeen) {
		rec.LastSeen = at
	}
	s.presence[user] = rec
	return nil
}

// Messages returns a copy of a room's history in creation order.
func (s *MemoryStore) Messages(room model.RoomID) []model.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MessageRecord, 0, len(s.messages[room]))
	for _, m := range s.messages[room] {
		out = append(out, *m)
	}
	return out
}

func (s *MemoryStore) Presence(user model.UserID) (model.PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.presence[user]
	return rec, ok
}
