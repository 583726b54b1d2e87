package auth

import (
	"context"

	"PPRoom/module/chat/model"
	"PPRoom/service/storage"
	"PPRoom/tools/errs"
	"PPRoom/tools/security"

	"github.com/pkg/errors"
)

var ErrUnknownUser = errors.New("user not found or inactive")

// UserDirectory looks up active users by id.
type UserDirectory interface {
	UserByID(ctx context.Context, id model.UserID) (model.Identity, error)
}

// JWTGateway resolves HMAC-signed bearer tokens to active users.
type JWTGateway struct {
	opts  security.Options
	users UserDirectory
}

func NewJWTGateway(opts security.Options, users UserDirectory) *JWTGateway {
	return &JWTGateway{opts: opts, users: users}
}

// Resolve verifies the token and loads its user. Token and lookup misses come
// back as plain errors; a directory outage comes back as StorageFailure so the
// caller can tell the two apart.
func (g *JWTGateway) Resolve(ctx context.Context, credential string) (model.Identity, error) {
	claims, err := security.Verify(g.opts, credential)
	if err != nil {
		return model.Identity{}, errors.Wrap(err, "verify token")
	}
	uid, err := claims.UID()
	if err != nil {
		return model.Identity{}, err
	}
	who, err := g.users.UserByID(ctx, model.UserID(uid))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Identity{}, errors.Wrapf(ErrUnknownUser, "user_id=%d", uid)
		}
		return model.Identity{}, errs.ErrStorageFailure.WrapMsg(err.Error(), "op", "user_by_id")
	}
	return who, nil
}
