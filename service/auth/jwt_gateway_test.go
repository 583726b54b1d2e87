package auth

import (
	"context"
	"testing"
	"time"

	"PPRoom/module/chat/model"
	"PPRoom/service/storage"
	"PPRoom/tools/errs"
	"PPRoom/tools/security"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("room-test-secret")

type brokenDirectory struct{}

func (brokenDirectory) UserByID(context.Context, model.UserID) (model.Identity, error) {
	return model.Identity{}, errors.New("connection refused")
}

func newGateway(t *testing.T) (*JWTGateway, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	st.AddUser(7, "alice")
	return NewJWTGateway(security.DefaultOptions(testSecret), st), st
}

func TestResolve_ValidToken(t *testing.T) {
	gw, _ := newGateway(t)
	tok, _, err := security.Generate(security.DefaultOptions(testSecret), 7, "alice")
	require.NoError(t, err)

	who, err := gw.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: 7, Username: "alice"}, who)
}

func TestResolve_Rejections(t *testing.T) {
	gw, st := newGateway(t)
	st.AddUser(8, "bob")
	st.DeactivateUser(8)

	good := security.DefaultOptions(testSecret)
	expired := good
	expired.TTL = time.Nanosecond

	unknown, _, err := security.Generate(good, 99, "ghost")
	require.NoError(t, err)
	inactive, _, err := security.Generate(good, 8, "bob")
	require.NoError(t, err)
	wrongKey, _, err := security.Generate(security.DefaultOptions([]byte("other")), 7, "alice")
	require.NoError(t, err)
	old, _, err := security.Generate(expired, 7, "alice")
	require.NoError(t, err)
	refresh, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, security.Claims{
		UserID:    7,
		TokenType: "refresh",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name  string
		token string
	}{
		{"refresh token", refresh},
		{"garbage", "not-a-jwt"},
		{"wrong key", wrongKey},
		{"expired", old},
		{"unknown user", unknown},
		{"inactive user", inactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Resolve(context.Background(), tt.token)
			require.Error(t, err)
			assert.False(t, errs.ErrStorage.Is(err))
		})
	}

	_, err = gw.Resolve(context.Background(), old)
	assert.ErrorIs(t, err, jwtlib.ErrTokenExpired)
	_, err = gw.Resolve(context.Background(), unknown)
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = gw.Resolve(context.Background(), refresh)
	assert.ErrorIs(t, err, security.ErrTokenType)
}

func TestResolve_DirectoryOutage(t *testing.T) {
	gw := NewJWTGateway(security.DefaultOptions(testSecret), brokenDirectory{})
	tok, _, err := security.Generate(security.DefaultOptions(testSecret), 7, "alice")
	require.NoError(t, err)

	_, err = gw.Resolve(context.Background(), tok)
	require.Error(t, err)
	assert.True(t, errs.ErrStorage.Is(err))
}
