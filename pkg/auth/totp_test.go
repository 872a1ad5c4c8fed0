package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSeed(t *testing.T) {
	e := NewTOTPEngine()

	setup, err := e.GenerateSeed("j@d.net")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
	assert.Contains(t, setup.ProvisioningURI, "xdeploy")
	assert.NotEmpty(t, setup.QRCodePNG)
}

func TestVerifyCodeWithinSkewWindow(t *testing.T) {
	e := NewTOTPEngine()
	setup, err := e.GenerateSeed("j@d.net")
	require.NoError(t, err)

	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	current, err := totp.GenerateCode(setup.Secret, now)
	require.NoError(t, err)
	assert.True(t, e.VerifyCode(current, setup.Secret))

	// One period behind is still accepted.
	previous, err := totp.GenerateCode(setup.Secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, e.VerifyCode(previous, setup.Secret))

	// Two periods behind is outside the window.
	stale, err := totp.GenerateCode(setup.Secret, now.Add(-90*time.Second))
	require.NoError(t, err)
	assert.False(t, e.VerifyCode(stale, setup.Secret))
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	e := NewTOTPEngine()
	setup, err := e.GenerateSeed("j@d.net")
	require.NoError(t, err)

	assert.False(t, e.VerifyCode("000000", setup.Secret))
	assert.False(t, e.VerifyCode("", setup.Secret))
	assert.False(t, e.VerifyCode("abcdef", setup.Secret))
}

func TestGenerateRecoveryCodes(t *testing.T) {
	plaintext, hashes, err := GenerateRecoveryCodes()
	require.NoError(t, err)
	require.Len(t, plaintext, RecoveryCodeCount)
	require.Len(t, hashes, RecoveryCodeCount)

	seen := make(map[string]bool)
	for i, code := range plaintext {
		assert.False(t, seen[code], "duplicate recovery code")
		seen[code] = true
		assert.Equal(t, HashRecoveryCode(code), hashes[i])
	}
}

func TestConsumeRecoveryCode(t *testing.T) {
	plaintext, hashes, err := GenerateRecoveryCodes()
	require.NoError(t, err)

	remaining, matched := ConsumeRecoveryCode(plaintext[3], hashes)
	assert.True(t, matched)
	assert.Len(t, remaining, RecoveryCodeCount-1)

	// The same code cannot be consumed twice.
	remaining, matched = ConsumeRecoveryCode(plaintext[3], remaining)
	assert.False(t, matched)
	assert.Len(t, remaining, RecoveryCodeCount-1)
}

func TestConsumeRecoveryCodeUnknown(t *testing.T) {
	_, hashes, err := GenerateRecoveryCodes()
	require.NoError(t, err)

	remaining, matched := ConsumeRecoveryCode("NOTACODE", hashes)
	assert.False(t, matched)
	assert.Len(t, remaining, RecoveryCodeCount)
}
