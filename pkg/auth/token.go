package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// Purpose restricts what a signed token may be exchanged for. A token is
// only ever valid for the purpose it was minted with; a two-factor
// challenge can never be presented as a session.
type Purpose string

const (
	PurposeSession            Purpose = "session"
	PurposeMagicLink          Purpose = "magic-link"
	PurposeTwoFactorChallenge Purpose = "two-factor-challenge"
	PurposePasswordReset      Purpose = "password-reset"
	PurposeEmailVerify        Purpose = "email-verify"
)

// TTLs per purpose. Single-use purposes stay short.
const (
	SessionTTL            = 24 * time.Hour
	MagicLinkTTL          = 15 * time.Minute
	PasswordResetTTL      = 15 * time.Minute
	EmailVerifyTTL        = 15 * time.Minute
	TwoFactorChallengeTTL = 5 * time.Minute
)

// singleUse reports whether tokens of this purpose are consumed on first
// validation.
func (p Purpose) singleUse() bool {
	return p != PurposeSession
}

// TTL returns the lifetime for tokens of this purpose.
func (p Purpose) TTL() time.Duration {
	switch p {
	case PurposeSession:
		return SessionTTL
	case PurposeMagicLink:
		return MagicLinkTTL
	case PurposePasswordReset:
		return PasswordResetTTL
	case PurposeEmailVerify:
		return EmailVerifyTTL
	case PurposeTwoFactorChallenge:
		return TwoFactorChallengeTTL
	default:
		return 0
	}
}

// NonceStore records single-use token nonces. Consume is atomic: for any
// nonce, at most one concurrent Consume call returns true.
type NonceStore interface {
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (bool, error)
}

type tokenClaims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenService mints and validates purpose-bound bearer tokens.
type TokenService struct {
	secret []byte
	nonces NonceStore
	now    func() time.Time
}

// NewTokenService creates a token service. nonces backs single-use token
// replay protection and must have an expiry at least as long as the longest
// single-use TTL.
func NewTokenService(secret string, nonces NonceStore) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token signing secret must be at least 32 bytes")
	}
	return &TokenService{
		secret: []byte(secret),
		nonces: nonces,
		now:    time.Now,
	}, nil
}

// Mint issues a signed token for the principal. Single-use purposes record
// the token nonce so the first validation consumes it.
func (s *TokenService) Mint(ctx context.Context, principalID string, purpose Purpose) (string, error) {
	ttl := purpose.TTL()
	if ttl == 0 {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}

	now := s.now()
	claims := tokenClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if purpose.singleUse() {
		if err := s.nonces.Put(ctx, claims.ID, ttl); err != nil {
			return "", fmt.Errorf("failed to record token nonce: %w", err)
		}
	}

	return token, nil
}

// Validate checks signature, expiry and purpose, and consumes the nonce of
// single-use tokens. It returns the principal id. All failures are
// unauthorized; the internal message distinguishes expired, malformed,
// wrong-purpose and revoked for logs only.
func (s *TokenService) Validate(ctx context.Context, token string, expected Purpose) (string, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apierror.Unauthorized("token expired")
		}
		return "", apierror.Unauthorized("malformed token")
	}
	if !parsed.Valid {
		return "", apierror.Unauthorized("malformed token")
	}

	if claims.Purpose != expected {
		return "", apierror.Unauthorized("token not valid for this operation")
	}
	if claims.Subject == "" || claims.ID == "" {
		return "", apierror.Unauthorized("malformed token")
	}

	if expected.singleUse() {
		ok, err := s.nonces.Consume(ctx, claims.ID)
		if err != nil {
			return "", apierror.Internal(fmt.Errorf("nonce consume: %w", err))
		}
		if !ok {
			return "", apierror.Unauthorized("token already used")
		}
	}

	return claims.Subject, nil
}

// Inspect fully validates a token without consuming its nonce. The
// two-factor flow uses it to check the challenge before the code is
// verified; the nonce is consumed only on a correct code, so a wrong code
// does not burn the challenge.
func (s *TokenService) Inspect(token string, expected Purpose) (principalID, nonce string, err error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", apierror.Unauthorized("token expired")
		}
		return "", "", apierror.Unauthorized("malformed token")
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return "", "", apierror.Unauthorized("malformed token")
	}
	if claims.Purpose != expected {
		return "", "", apierror.Unauthorized("token not valid for this operation")
	}
	return claims.Subject, claims.ID, nil
}

// ConsumeNonce consumes a single-use nonce obtained from Inspect. At most
// one concurrent caller succeeds for a given nonce.
func (s *TokenService) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	return s.nonces.Consume(ctx, nonce)
}
