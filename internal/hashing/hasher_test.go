package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demo-call-service/internal/config"
)

func TestHashPhoneIsStableForKey(t *testing.T) {
	t.Parallel()

	h, err := NewHasher(&config.Config{Hashing: config.HashingConfig{PIIKey: "test-key"}})
	require.NoError(t, err)

	a := h.HashPhone("+351912345678")
	assert.Len(t, a, 64)
	assert.Equal(t, a, h.HashPhone("+351912345678"))
	assert.NotEqual(t, a, h.HashPhone("+351912345679"))
}

func TestHashPhoneDependsOnKey(t *testing.T) {
	t.Parallel()

	h1, err := NewHasher(&config.Config{Hashing: config.HashingConfig{PIIKey: "key-one"}})
	require.NoError(t, err)
	h2, err := NewHasher(&config.Config{Hashing: config.HashingConfig{PIIKey: "key-two"}})
	require.NoError(t, err)

	assert.NotEqual(t, h1.HashPhone("+351912345678"), h2.HashPhone("+351912345678"))
}

func TestNewHasherRejectsLongKey(t *testing.T) {
	t.Parallel()

	_, err := NewHasher(&config.Config{Hashing: config.HashingConfig{PIIKey: strings.Repeat("k", 65)}})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewHasherGeneratesKey(t *testing.T) {
	t.Parallel()

	h, err := NewHasher(&config.Config{})
	require.NoError(t, err)
	assert.Len(t, h.key, 32)
}
