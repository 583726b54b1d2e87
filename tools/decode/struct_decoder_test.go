package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingPayload struct {
	IsTyping bool `json:"is_typing"`
}

type textPayload struct {
	Message string `json:"message"`
}

func TestDecodeMap_Weak(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want bool
	}{
		{"bool", map[string]any{"is_typing": true}, true},
		{"string", map[string]any{"is_typing": " true "}, true},
		{"number", map[string]any{"is_typing": float64(0)}, false},
		{"missing", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMap[typingPayload](tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.IsTyping)
		})
	}
}

func TestDecodeMap_KeepsMessageBytes(t *testing.T) {
	got, err := DecodeMap[textPayload](map[string]any{"message": "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, "  hi  ", got.Message)
}

func TestDecodeMap_StrictRejectsWrongType(t *testing.T) {
	_, err := DecodeMap[typingPayload](map[string]any{"is_typing": "yes please"}, Options{})
	assert.Error(t, err)
}

func TestDecodeMap_ErrorUnusedWithIgnore(t *testing.T) {
	in := map[string]any{"type": "typing", "is_typing": true}

	_, err := DecodeMap[typingPayload](in, Options{ErrorUnused: true})
	assert.Error(t, err)

	got, err := DecodeMap[typingPayload](in, Options{ErrorUnused: true, Ignore: []string{"type"}})
	require.NoError(t, err)
	assert.True(t, got.IsTyping)
	assert.Contains(t, in, "type")
}

func TestDecodeMap_Nil(t *testing.T) {
	_, err := DecodeMap[typingPayload](nil)
	assert.Error(t, err)
}

func TestReadString(t *testing.T) {
	m := map[string]any{"type": "typing", "n": 1.0, "null": nil}
	s, ok := ReadString(m, "type")
	assert.True(t, ok)
	assert.Equal(t, "typing", s)
	_, ok = ReadString(m, "n")
	assert.False(t, ok)
	_, ok = ReadString(m, "null")
	assert.False(t, ok)
	_, ok = ReadString(m, "absent")
	assert.False(t, ok)
}
