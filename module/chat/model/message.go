package model

import "time"

// Identity is what the auth gateway resolves a credential to.
type Identity struct {
	ID       UserID `json:"user_id"`
	Username string `json:"username"`
}

// MessageRecord is immutable after creation except for IsRead.
type MessageRecord struct {
	ID        MessageID `json:"message_id"`
	RoomID    RoomID    `json:"room_id"`
	Author    Identity  `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

// PresenceRecord is the persisted, aggregated presence of one user.
type PresenceRecord struct {
	UserID   UserID    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
