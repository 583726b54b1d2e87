package chat

import (
	"context"
	"time"

	"PPRoom/module/chat/model"
)

// AuthGateway resolves a bearer credential to a user. Any error means the
// credential is unusable; the orchestrator maps it to InvalidCredential.
type AuthGateway interface {
	Resolve(ctx context.Context, credential string) (model.Identity, error)
}

// AccessGateway answers room membership questions from the CRUD store.
type AccessGateway interface {
	IsParticipant(ctx context.Context, user model.UserID, room model.RoomID) (bool, error)
	RoomsOf(ctx context.Context, user model.UserID) ([]model.RoomID, error)
}

// MessageStore is the only path to durable message state.
type MessageStore interface {
	Create(ctx context.Context, room model.RoomID, author model.Identity, content string) (model.MessageRecord, error)
	MarkReadExcluding(ctx context.Context, room model.RoomID, user model.UserID) (int64, error)
}

// PresenceStore persists the aggregated presence record other users query.
type PresenceStore interface {
	SetOnline(ctx context.Context, user model.UserID, online bool, at time.Time) error
}

// PresenceIndex counts live sessions per user. Attach and Detach return the
// count after the change; both must be idempotent per session id.
type PresenceIndex interface {
	Attach(ctx context.Context, user model.UserID, sessionID string) (int, error)
	Detach(ctx context.Context, user model.UserID, sessionID string) (int, error)
	Touch(ctx context.Context, user model.UserID, sessionID string) error
}

// RoomEvent is a persisted event handed to downstream sinks after local fanout.
type RoomEvent struct {
	Room    model.RoomID
	Kind    EventKind
	Payload []byte // the exact JSON frame subscribers received
	At      time.Time
}

// EventSink forwards room events to an external bus. Failures are logged and
// never affect the session that produced the event.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev RoomEvent) error
}
