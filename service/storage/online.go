package storage

import (
	"context"
	"fmt"
	"time"

	"PPRoom/module/chat/model"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== Lua 脚本 =====
//
// One ZSET per user: member = "<node>:<session>", score = expiry (unix seconds).
// Expired members belong to sessions whose node died without detaching.

// KEYS[1] = user index key
// ARGV[1] = member, ARGV[2] = nowUnix, ARGV[3] = expireAtUnix, ARGV[4] = keyTTL seconds
// 返回：live member count after attaching
const luaAttach = `
local userZ = KEYS[1]
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", ARGV[2])
redis.call("ZADD", userZ, ARGV[3], ARGV[1])
redis.call("EXPIRE", userZ, ARGV[4])
return redis.call("ZCARD", userZ)
`

// KEYS[1] = user index key
// ARGV[1] = member, ARGV[2] = nowUnix
// 返回：live member count after detaching (idempotent)
const luaDetach = `
local userZ = KEYS[1]
redis.call("ZREM", userZ, ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", ARGV[2])
local n = redis.call("ZCARD", userZ)
if n == 0 then
  redis.call("DEL", userZ)
end
return n
`

// KEYS[1] = user index key
// ARGV[1] = member, ARGV[2] = expireAtUnix, ARGV[3] = keyTTL seconds
// 返回：1 renewed；0 member unknown (already detached or swept)
const luaTouch = `
local userZ = KEYS[1]
if redis.call("ZSCORE", userZ, ARGV[1]) == false then
  return 0
end
redis.call("ZADD", userZ, "XX", ARGV[2], ARGV[1])
redis.call("EXPIRE", userZ, ARGV[3])
return 1
`

type OnlineConfig struct {
	NodeID    string        // prefix for members, one per gateway process
	TTL       time.Duration // member lifetime without Touch
	KeyPrefix string        // default "presence"
}

// RedisPresenceIndex aggregates live sessions per user across every gateway node.
type RedisPresenceIndex struct {
	rdb    redis.Scripter
	conf   OnlineConfig
	attach *redis.Script
	detach *redis.Script
	touch  *redis.Script
	now    func() time.Time
}

func NewRedisPresenceIndex(rdb redis.Scripter, conf OnlineConfig) *RedisPresenceIndex {
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Minute
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = "presence"
	}
	return &RedisPresenceIndex{
		rdb:    rdb,
		conf:   conf,
		attach: redis.NewScript(luaAttach),
		detach: redis.NewScript(luaDetach),
		touch:  redis.NewScript(luaTouch),
		now:    time.Now,
	}
}

// userIndexKey uses a hash tag so a user's index stays on one cluster slot.
func (x *RedisPresenceIndex) userIndexKey(user model.UserID) string {
	return fmt.Sprintf("%s:{u:%d}", x.conf.KeyPrefix, int64(user))
}

func (x *RedisPresenceIndex) member(sessionID string) string {
	return x.conf.NodeID + ":" + sessionID
}

func (x *RedisPresenceIndex) keyTTL() int64 {
	return int64(2 * x.conf.TTL / time.Second)
}

func (x *RedisPresenceIndex) Attach(ctx context.Context, user model.UserID, sessionID string) (int, error) {
	now := x.now()
	n, err := x.attach.Run(ctx, x.rdb,
		[]string{x.userIndexKey(user)},
		x.member(sessionID), now.Unix(), now.Add(x.conf.TTL).Unix(), x.keyTTL(),
	).Int()
	return n, errors.Wrap(err, "presence attach")
}

func (x *RedisPresenceIndex) Detach(ctx context.Context, user model.UserID, sessionID string) (int, error) {
	n, err := x.detach.Run(ctx, x.rdb,
		[]string{x.userIndexKey(user)},
		x.member(sessionID), x.now().Unix(),
	).Int()
	return n, errors.Wrap(err, "presence detach")
}

func (x *RedisPresenceIndex) Touch(ctx context.Context, user model.UserID, sessionID string) error {
	_, err := x.touch.Run(ctx, x.rdb,
		[]string{x.userIndexKey(user)},
		x.member(sessionID), x.now().Add(x.conf.TTL).Unix(), x.keyTTL(),
	).Int()
	return errors.Wrap(err, "presence touch")
}
