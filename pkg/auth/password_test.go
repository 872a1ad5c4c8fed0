package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h := NewPasswordHasher()

	encoded, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	assert.True(t, h.Verify("Passw0rd!", encoded))
	assert.False(t, h.Verify("Passw0rd!x", encoded))
	assert.False(t, h.Verify("", encoded))
}

func TestHashIsSalted(t *testing.T) {
	h := NewPasswordHasher()

	a, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	b, err := h.Hash("Passw0rd!")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("Passw0rd!", a))
	assert.True(t, h.Verify("Passw0rd!", b))
}

func TestVerifyMalformedHash(t *testing.T) {
	h := NewPasswordHasher()

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "empty", encoded: ""},
		{name: "garbage", encoded: "not-a-hash"},
		{name: "wrong scheme", encoded: "$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA"},
		{name: "bad salt encoding", encoded: "$argon2id$v=19$m=65536,t=3,p=2$!!!$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, h.Verify("Passw0rd!", tt.encoded))
		})
	}
}
