package storage

import (
	"context"
	"time"

	"PPRoom/module/chat/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// schema is the subset of the CRUD service's tables the gateway touches.
// Migrate applies it for local development only; production schema belongs to the CRUD service.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id        BIGSERIAL PRIMARY KEY,
    username  TEXT NOT NULL UNIQUE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS chat_rooms (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    chat_type   TEXT NOT NULL DEFAULT 'direct' CHECK (chat_type IN ('direct', 'group')),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_room_participants (
    room_id BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS chat_room_participants_user_idx ON chat_room_participants (user_id);
CREATE TABLE IF NOT EXISTS chat_messages (
    id         BIGSERIAL PRIMARY KEY,
    room_id    BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    content    TEXT NOT NULL,
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_read    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS chat_messages_unread_idx ON chat_messages (room_id, user_id) WHERE NOT is_read;
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id   BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    is_online BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const (
	qUserByID = `SELECT id, username FROM users WHERE id = $1 AND is_active`

	qIsParticipant = `SELECT EXISTS (
    SELECT 1 FROM chat_room_participants WHERE room_id = $1 AND user_id = $2)`

	qRoomsOf = `SELECT room_id FROM chat_room_participants WHERE user_id = $1 ORDER BY room_id`

	qCreateMessage = `INSERT INTO chat_messages (room_id, user_id, content)
VALUES ($1, $2, $3)
RETURNING id, timestamp`

	qMarkRead = `UPDATE chat_messages SET is_read = TRUE
WHERE room_id = $1 AND user_id <> $2 AND NOT is_read`

	// last_seen never moves backwards, even if two nodes race.
	qSetOnline = `INSERT INTO user_profiles (user_id, is_online, last_seen)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET is_online = EXCLUDED.is_online,
    last_seen = GREATEST(user_profiles.last_seen, EXCLUDED.last_seen)`
)

// DBTX is the slice of pgxpool.Pool the store needs; pgx.Tx satisfies it too.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DBTX
}

func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

// OpenPool connects and pings the database.
func OpenPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return pool, nil
}

func (s *PgStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return errors.Wrap(err, "migrate")
}

func (s *PgStore) UserByID(ctx context.Context, id model.UserID) (model.Identity, error) {
	var ident model.Identity
	err := s.db.QueryRow(ctx, qUserByID, int64(id)).Scan(&ident.ID, &ident.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, errors.Wrap(err, "select user")
	}
	return ident, nil
}

func (s *PgStore) IsParticipant(ctx context.Context, user model.UserID, room model.RoomID) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, qIsParticipant, int64(room), int64(user)).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check participant")
	}
	return ok, nil
}

func (s *PgStore) RoomsOf(ctx context.Context, user model.UserID) ([]model.RoomID, error) {
	rows, err := s.db.Query(ctx, qRoomsOf, int64(user))
	if err != nil {
		return nil, errors.Wrap(err, "select rooms")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "scan rooms")
	}
	out := make([]model.RoomID, len(ids))
	for i, id := range ids {
		out[i] = model.RoomID(id)
	}
	return out, nil
}

func (s *PgStore) Create(ctx context.Context, room model.RoomID, author model.Identity, content string) (model.MessageRecord, error) {
	rec := model.MessageRecord{RoomID: room, Author: author, Content: content}
	var ts time.Time
	err := s.db.QueryRow(ctx, qCreateMessage, int64(room), int64(author.ID), content).Scan(&rec.ID, &ts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.MessageRecord{}, ErrNotFound
		}
		return model.MessageRecord{}, errors.Wrap(err, "insert message")
	}
	rec.Timestamp = ts.UTC()
	return rec, nil
}

func (s *PgStore) MarkReadExcluding(ctx context.Context, room model.RoomID, user model.UserID) (int64, error) {
	tag, err := s.db.Exec(ctx, qMarkRead, int64(room), int64(user))
	if err != nil {
		return 0, errors.Wrap(err, "mark read")
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) SetOnline(ctx context.Context, user model.UserID, online bool, at time.Time) error {
	_, err := s.db.Exec(ctx, qSetOnline, int64(user), online, at.UTC())
	return errors.Wrap(err, "upsert profile")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
