package errs

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeError_IsMatchesClass(t *testing.T) {
	err := ErrInvalidCredential.WrapMsg("verify", "user", 7)

	assert.True(t, ErrInvalidCredential.Is(err))
	assert.True(t, ErrAuth.Is(err))
	assert.False(t, ErrAccess.Is(err))
	assert.False(t, ErrMissingCredential.Is(err))
}

func TestCodeError_WrapKeepsOriginalUntouched(t *testing.T) {
	err := ErrEmptyContent.WrapMsg("", "room", 42)

	ce, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, EmptyContent, ce.Code)
	assert.Equal(t, "room=42", ce.Detail)
	assert.Empty(t, ErrEmptyContent.Detail)
}

func TestCodeOf_ThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrStorageFailure.Wrap())

	ce, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, StorageFailure, ce.Code)

	_, ok = CodeOf(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty content", ErrEmptyContent.Wrap(), "Message cannot be empty"},
		{"malformed", ErrMalformedFrame.WrapMsg("unexpected EOF"), "Invalid JSON format"},
		{"driver error", stderrors.New("pq: connection refused"), "An error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicMessage(tt.err))
		})
	}
}

func TestCodeRelation_AddRejectsSingleCode(t *testing.T) {
	r := newCodeRelation()
	assert.Error(t, r.Add(1))
	require.NoError(t, r.Add(1, 2, 3))
	assert.True(t, r.Is(1, 3))
	assert.True(t, r.Is(2, 3))
	assert.False(t, r.Is(3, 1))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	ce, ok := CodeOf(ErrPanic("boom"))
	require.True(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}
