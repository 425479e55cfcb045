package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	plain := []byte(`{"apiKey":"pk_live_123"}`)
	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "pk_live_123")

	again, err := s.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestSealer_Tampered(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("hello"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = s.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = s.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSealer_WrongKey(t *testing.T) {
	a, _ := NewSealer(testKey)
	b, _ := NewSealer(strings.Repeat("cd", 32))

	sealed, err := a.Seal([]byte("hello"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer("zz")
	assert.Error(t, err)
	_, err = NewSealer("abcd")
	assert.Error(t, err)
}

func TestSealer_Empty(t *testing.T) {
	s, _ := NewSealer(testKey)
	sealed, err := s.Seal(nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)
	opened, err := s.Open(nil)
	require.NoError(t, err)
	assert.Nil(t, opened)
}
