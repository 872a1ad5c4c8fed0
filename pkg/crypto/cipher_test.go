package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "not hex", key: "zzzz"},
		{name: "too short", key: "deadbeef"},
		{name: "too long", key: strings.Repeat("ab", 40)},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	plaintext := []byte(`{"accessToken":"dckr_pat_sPeNJz856Sp7mOkod8oPRO1OBGE"}`)
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)
	assert.Equal(t, byte(0x01), sealed[0])

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	sealed[0] = 0x7f
	_, err = c.Decrypt(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key version")
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	sealed, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsShortPayload(t *testing.T) {
	c := newTestCipher(t)
	_, err := c.Decrypt([]byte{0x01, 0x02})
	assert.Error(t, err)
}
