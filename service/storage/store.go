package storage

import (
	"context"
	"time"

	"PPRoom/module/chat/model"
)

// Store is everything the chat core reads and writes. MemoryStore and PgStore
// both implement it.
type Store interface {
	UserByID(ctx context.Context, id model.UserID) (model.Identity, error)
	IsParticipant(ctx context.Context, user model.UserID, room model.RoomID) (bool, error)
	RoomsOf(ctx context.Context, user model.UserID) ([]model.RoomID, error)
	Create(ctx context.Context, room model.RoomID, author model.Identity, content string) (model.MessageRecord, error)
	MarkReadExcluding(ctx context.Context, room model.RoomID, user model.UserID) (int64, error)
	SetOnline(ctx context.Context, user model.UserID, online bool, at time.Time) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PgStore)(nil)
)
