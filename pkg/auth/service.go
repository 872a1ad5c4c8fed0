package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/crypto"
	"github.com/xdeploy/xdeploy/pkg/events"
)

// invalidCredentials is the single message returned for every credential
// failure. A missing account, a wrong password and a wrong code are
// indistinguishable from outside.
const invalidCredentials = "invalid credentials"

// Service drives the authentication state machine: registration, login,
// two-factor, magic links and password recovery.
type Service struct {
	users    UserStore
	hasher   *PasswordHasher
	tokens   *TokenService
	totp     *TOTPEngine
	cipher   *crypto.Cipher
	producer events.Producer
	log      *logrus.Logger
}

// NewService wires the authentication service.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenService, totp *TOTPEngine, cipher *crypto.Cipher, producer events.Producer, log *logrus.Logger) *Service {
	return &Service{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		totp:     totp,
		cipher:   cipher,
		producer: producer,
		log:      log,
	}
}

// RegisterInput carries the register transition's fields. Field-level
// validation (email shape, password length) happens at the HTTP edge.
type RegisterInput struct {
	Firstname string
	Lastname  string
	Email     string
	Phone     string
	Password  string
}

// Register creates a new user with a hashed password and an unverified
// email, emits user.registered, and enqueues an email-verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	if existing, err := s.users.GetByEmail(ctx, in.Email); err == nil && existing != nil {
		return apierror.Conflict("email already registered")
	} else if err != nil && !errors.Is(err, apierror.NotFound("")) {
		return apierror.Internal(fmt.Errorf("lookup user: %w", err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return apierror.Internal(fmt.Errorf("hash password: %w", err))
	}

	user := &User{
		Firstname: in.Firstname,
		Lastname:  in.Lastname,
		Email:     Email{Address: in.Email},
		Phone:     Phone{Number: in.Phone},
		Password:  Password{Hash: hash, UpdatedAt: time.Now().UTC()},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apierror.Conflict("")) {
			return apierror.Conflict("email already registered")
		}
		return apierror.Internal(fmt.Errorf("create user: %w", err))
	}

	s.producer.Emit(events.TopicUserRegistered, map[string]string{
		"id":        user.ID,
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
		"email":     user.Email.Address,
	})

	verifyToken, err := s.tokens.Mint(ctx, user.ID, PurposeEmailVerify)
	if err != nil {
		// Registration already succeeded; the user can request a fresh
		// verification token later.
		s.log.WithError(err).WithField("user_id", user.ID).Warn("failed to mint email verification token")
		return nil
	}
	s.producer.Emit("user.email_verification", map[string]string{
		"id":    user.ID,
		"email": user.Email.Address,
		"jwt":   verifyToken,
	})

	return nil
}

// Login verifies credentials. With two-factor enabled it returns a
// short-lived challenge token instead of a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user == nil {
		// Burn a hash verification anyway so missing users cost the same
		// as wrong passwords.
		s.hasher.Verify(password, "")
		return nil, apierror.Unauthorized(invalidCredentials)
	}
	if !s.hasher.Verify(password, user.Password.Hash) {
		return nil, apierror.Unauthorized(invalidCredentials)
	}

	if user.TwoFactor.Enabled {
		challenge, err := s.tokens.Mint(ctx, user.ID, PurposeTwoFactorChallenge)
		if err != nil {
			return nil, apierror.Internal(fmt.Errorf("mint challenge: %w", err))
		}
		return &LoginResult{ChallengeToken: challenge, TwoFactorRequired: true}, nil
	}

	session, err := s.tokens.Mint(ctx, user.ID, PurposeSession)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("mint session: %w", err))
	}
	return &LoginResult{SessionToken: session}, nil
}

// TwoFactor exchanges a challenge token plus a current TOTP code for a
// session. The challenge nonce is consumed only after the code verifies, so
// a mistyped code does not invalidate the challenge; a consumed challenge
// is rejected as a replay.
func (s *Service) TwoFactor(ctx context.Context, challengeToken, code string) (string, error) {
	userID, nonce, err := s.tokens.Inspect(challengeToken, PurposeTwoFactorChallenge)
	if err != nil {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil || !user.TwoFactor.Enabled {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	secret, err := s.cipher.Decrypt(user.TwoFactor.EncryptedSecret)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("decrypt TOTP seed: %w", err))
	}
	if !s.totp.VerifyCode(code, string(secret)) {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	ok, err := s.tokens.ConsumeNonce(ctx, nonce)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("consume challenge: %w", err))
	}
	if !ok {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	session, err := s.tokens.Mint(ctx, user.ID, PurposeSession)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("mint session: %w", err))
	}
	return session, nil
}

// TwoFactorRecovery exchanges a challenge token plus a single-use recovery
// code for a session.
func (s *Service) TwoFactorRecovery(ctx context.Context, challengeToken, recoveryCode string) (string, error) {
	userID, nonce, err := s.tokens.Inspect(challengeToken, PurposeTwoFactorChallenge)
	if err != nil {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil || !user.TwoFactor.Enabled {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	remaining, matched := ConsumeRecoveryCode(recoveryCode, user.TwoFactor.RecoveryCodes)
	if !matched {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	tf := user.TwoFactor
	tf.RecoveryCodes = remaining
	if err := s.users.UpdateTwoFactor(ctx, user.ID, tf); err != nil {
		return "", apierror.Internal(fmt.Errorf("update recovery codes: %w", err))
	}

	ok, err := s.tokens.ConsumeNonce(ctx, nonce)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("consume challenge: %w", err))
	}
	if !ok {
		return "", apierror.Unauthorized(invalidCredentials)
	}

	if len(remaining) < LowRecoveryThreshold {
		s.producer.Emit(events.TopicLowRecovery, map[string]interface{}{
			"id":        user.ID,
			"email":     user.Email.Address,
			"remaining": len(remaining),
		})
	}

	session, err := s.tokens.Mint(ctx, user.ID, PurposeSession)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("mint session: %w", err))
	}
	return session, nil
}

// MagicLink issues a magic-link token for a known email. The response is
// identical whether or not the email exists.
func (s *Service) MagicLink(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user == nil {
		return nil
	}

	token, err := s.tokens.Mint(ctx, user.ID, PurposeMagicLink)
	if err != nil {
		s.log.WithError(err).Warn("failed to mint magic-link token")
		return nil
	}
	s.producer.Emit(events.TopicUserMagicLink, map[string]string{
		"id":    user.ID,
		"email": user.Email.Address,
		"jwt":   token,
	})
	return nil
}

// ExchangeMagicLink turns a single-use magic-link token into a session.
func (s *Service) ExchangeMagicLink(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Validate(ctx, token, PurposeMagicLink)
	if err != nil {
		return "", apierror.Unauthorized(invalidCredentials)
	}
	session, err := s.tokens.Mint(ctx, userID, PurposeSession)
	if err != nil {
		return "", apierror.Internal(fmt.Errorf("mint session: %w", err))
	}
	return session, nil
}

// ForgotPassword issues a reset token for a known email, with the same
// enumeration-resistant shape as MagicLink.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user == nil {
		return nil
	}

	token, err := s.tokens.Mint(ctx, user.ID, PurposePasswordReset)
	if err != nil {
		s.log.WithError(err).Warn("failed to mint password-reset token")
		return nil
	}
	s.producer.Emit("user.forgot_password", map[string]string{
		"id":    user.ID,
		"email": user.Email.Address,
		"jwt":   token,
	})
	return nil
}

// ResetPassword consumes a reset token and rotates the password hash. The
// token nonce is consumed atomically before the hash is updated, so of two
// concurrent resets with the same token exactly one succeeds.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.tokens.Validate(ctx, token, PurposePasswordReset)
	if err != nil {
		return apierror.Unauthorized(invalidCredentials)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apierror.Internal(fmt.Errorf("hash password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, userID, Password{Hash: hash, UpdatedAt: time.Now().UTC()}); err != nil {
		return apierror.Internal(fmt.Errorf("update password: %w", err))
	}
	return nil
}

// ChangePassword rotates the password of an authenticated user after
// verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return apierror.Unauthorized(invalidCredentials)
	}
	if !s.hasher.Verify(current, user.Password.Hash) {
		return apierror.Unauthorized(invalidCredentials)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apierror.Internal(fmt.Errorf("hash password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, userID, Password{Hash: hash, UpdatedAt: time.Now().UTC()}); err != nil {
		return apierror.Internal(fmt.Errorf("update password: %w", err))
	}
	return nil
}

// VerifyEmail consumes an email-verification token and marks the address
// verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.Validate(ctx, token, PurposeEmailVerify)
	if err != nil {
		return apierror.Unauthorized(invalidCredentials)
	}
	if err := s.users.SetEmailVerified(ctx, userID); err != nil {
		return apierror.Internal(fmt.Errorf("verify email: %w", err))
	}
	return nil
}

// ChangePhone updates the account's phone number. Preserved from an older
// API surface; the number goes back to unverified.
func (s *Service) ChangePhone(ctx context.Context, userID, number string) error {
	if err := s.users.SetPhone(ctx, userID, number); err != nil {
		return apierror.Internal(fmt.Errorf("update phone: %w", err))
	}
	return nil
}

// TwoFactorInfo describes the account's second-factor state.
type TwoFactorInfo struct {
	Enabled                bool `json:"enabled"`
	RecoveryCodesRemaining int  `json:"recoveryCodesRemaining"`
}

// GetTwoFactorInfo reports whether two-factor is enabled and how many
// recovery codes remain.
func (s *Service) GetTwoFactorInfo(ctx context.Context, userID string) (*TwoFactorInfo, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, apierror.NotFound("user not found")
	}
	return &TwoFactorInfo{
		Enabled:                user.TwoFactor.Enabled,
		RecoveryCodesRemaining: len(user.TwoFactor.RecoveryCodes),
	}, nil
}

// SetupTwoFactor generates a provisional seed. The seed is stored sealed
// and only promoted to enabled by EnableTwoFactor.
func (s *Service) SetupTwoFactor(ctx context.Context, userID string) (*TOTPSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, apierror.NotFound("user not found")
	}
	if user.TwoFactor.Enabled {
		return nil, apierror.Unprocessable("two-factor authentication is already enabled")
	}

	setup, err := s.totp.GenerateSeed(user.Email.Address)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("generate seed: %w", err))
	}
	sealed, err := s.cipher.Encrypt([]byte(setup.Secret))
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("seal seed: %w", err))
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, TwoFactor{
		Provisional:     true,
		EncryptedSecret: sealed,
	}); err != nil {
		return nil, apierror.Internal(fmt.Errorf("store provisional seed: %w", err))
	}
	return setup, nil
}

// EnableTwoFactor promotes a provisional seed after one successful code and
// issues a fresh recovery code list, returned in plaintext exactly once.
func (s *Service) EnableTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, apierror.NotFound("user not found")
	}
	if user.TwoFactor.Enabled {
		return nil, apierror.Unprocessable("two-factor authentication is already enabled")
	}
	if !user.TwoFactor.Provisional || len(user.TwoFactor.EncryptedSecret) == 0 {
		return nil, apierror.Unprocessable("two-factor setup has not been started")
	}

	secret, err := s.cipher.Decrypt(user.TwoFactor.EncryptedSecret)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("unseal seed: %w", err))
	}
	if !s.totp.VerifyCode(code, string(secret)) {
		return nil, apierror.Unauthorized(invalidCredentials)
	}

	plaintext, hashes, err := GenerateRecoveryCodes()
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("generate recovery codes: %w", err))
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, TwoFactor{
		Enabled:         true,
		EncryptedSecret: user.TwoFactor.EncryptedSecret,
		RecoveryCodes:   hashes,
	}); err != nil {
		return nil, apierror.Internal(fmt.Errorf("enable two-factor: %w", err))
	}
	return plaintext, nil
}

// DisableTwoFactor revokes the second factor given a current TOTP code or a
// recovery code.
func (s *Service) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return apierror.NotFound("user not found")
	}
	if !user.TwoFactor.Enabled {
		return apierror.Unprocessable("two-factor authentication is not enabled")
	}

	secret, err := s.cipher.Decrypt(user.TwoFactor.EncryptedSecret)
	if err != nil {
		return apierror.Internal(fmt.Errorf("unseal seed: %w", err))
	}

	if !s.totp.VerifyCode(code, string(secret)) {
		if _, matched := ConsumeRecoveryCode(code, user.TwoFactor.RecoveryCodes); !matched {
			return apierror.Unauthorized(invalidCredentials)
		}
	}

	if err := s.users.UpdateTwoFactor(ctx, userID, TwoFactor{}); err != nil {
		return apierror.Internal(fmt.Errorf("disable two-factor: %w", err))
	}
	return nil
}

// GetAccount loads the authenticated user's profile.
func (s *Service) GetAccount(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, apierror.NotFound("user not found")
	}
	return user, nil
}
