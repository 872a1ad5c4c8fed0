package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "xdeploy"

	// RecoveryCodeCount is the size of a freshly issued recovery code list.
	RecoveryCodeCount = 10
	// LowRecoveryThreshold triggers a low-recovery event when fewer codes remain.
	LowRecoveryThreshold = 3

	recoveryCodeBytes = 10
	qrSizePx          = 200
)

// TOTPEngine generates seeds and verifies time-based one-time codes.
type TOTPEngine struct {
	now func() time.Time
}

// NewTOTPEngine creates a TOTP engine using the system clock.
func NewTOTPEngine() *TOTPEngine {
	return &TOTPEngine{now: time.Now}
}

// TOTPSetup is the material returned to a user enrolling a second factor.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
	QRCodePNG       string // base64-encoded PNG
}

// GenerateSeed creates a new TOTP secret plus its provisioning URI and a
// QR-capable PNG rendering for authenticator apps.
func (e *TOTPEngine) GenerateSeed(accountName string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP seed: %w", err)
	}

	img, err := key.Image(qrSizePx, qrSizePx)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodePNG:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyCode checks a six-digit code against the seed, allowing one period
// of clock skew in either direction.
func (e *TOTPEngine) VerifyCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateRecoveryCodes returns a fresh list of plaintext recovery codes and
// their stored hashes. Plaintext codes are shown to the user exactly once.
func GenerateRecoveryCodes() (plaintext []string, hashes []string, err error) {
	plaintext = make([]string, 0, RecoveryCodeCount)
	hashes = make([]string, 0, RecoveryCodeCount)
	for i := 0; i < RecoveryCodeCount; i++ {
		raw := make([]byte, recoveryCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
		plaintext = append(plaintext, code)
		hashes = append(hashes, HashRecoveryCode(code))
	}
	return plaintext, hashes, nil
}

// HashRecoveryCode produces the stored form of a recovery code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ConsumeRecoveryCode removes the matching code hash from the list. Returns
// the remaining list and whether a code matched. Each code is single-use.
func ConsumeRecoveryCode(code string, hashes []string) (remaining []string, matched bool) {
	candidate := HashRecoveryCode(code)
	remaining = make([]string, 0, len(hashes))
	for _, h := range hashes {
		if !matched && subtle.ConstantTimeCompare([]byte(h), []byte(candidate)) == 1 {
			matched = true
			continue
		}
		remaining = append(remaining, h)
	}
	return remaining, matched
}
