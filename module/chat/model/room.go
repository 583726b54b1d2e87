package model

import (
	"strconv"
	"time"
)

type (
	UserID    int64
	RoomID    int64
	MessageID int64
)

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id RoomID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseRoomID accepts the decimal form used in URLs.
func ParseRoomID(s string) (RoomID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return RoomID(v), nil
}

type RoomType string

const (
	RoomDirect RoomType = "direct" // 1-on-1, exactly two participants
	RoomGroup  RoomType = "group"
)

// Room is owned by the CRUD layer; the gateway only reads membership.
type Room struct {
	ID           RoomID    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Type         RoomType  `json:"chat_type"`
	Participants []UserID  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsDirect reports a well-formed direct room.
func (r *Room) IsDirect() bool {
	return r.Type == RoomDirect && len(r.Participants) == 2
}

func (r *Room) HasParticipant(u UserID) bool {
	for _, p := range r.Participants {
		if p == u {
			return true
		}
	}
	return false
}
