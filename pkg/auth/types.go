package auth

import (
	"context"
	"time"
)

// Email is a user's email address and its verification state.
type Email struct {
	Address  string `bson:"address" json:"address"`
	Verified bool   `bson:"verified" json:"verified"`
}

// Phone is a user's phone number and its verification state.
type Phone struct {
	Number   string `bson:"number" json:"number"`
	Verified bool   `bson:"verified" json:"verified"`
}

// Password holds the stored credential state. Hash is the encoded argon2id
// hash, never the plaintext.
type Password struct {
	Hash      string    `bson:"hash" json:"-"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// TwoFactor holds second-factor enrollment state. EncryptedSecret is the
// cipher-sealed TOTP seed; Provisional marks a seed generated by setup but
// not yet confirmed by a successful code. RecoveryCodes are stored as
// one-way hashes and removed as they are used.
type TwoFactor struct {
	Enabled         bool     `bson:"enabled" json:"enabled"`
	Provisional     bool     `bson:"provisional" json:"-"`
	EncryptedSecret []byte   `bson:"encryptedSecret,omitempty" json:"-"`
	RecoveryCodes   []string `bson:"recoveryCodes,omitempty" json:"-"`
}

// User is a registered principal.
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Firstname string    `bson:"firstname" json:"firstname"`
	Lastname  string    `bson:"lastname" json:"lastname"`
	Email     Email     `bson:"email" json:"email"`
	Phone     Phone     `bson:"phone" json:"phone"`
	Password  Password  `bson:"password" json:"-"`
	TwoFactor TwoFactor `bson:"twoFactor" json:"two_factor"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// UserStore is the persistence contract the authentication service needs.
// The mongo implementation lives in pkg/store.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id string, p Password) error
	SetEmailVerified(ctx context.Context, id string) error
	SetPhone(ctx context.Context, id string, number string) error
	UpdateTwoFactor(ctx context.Context, id string, tf TwoFactor) error
}

// LoginResult is the outcome of a successful credential check. Exactly one
// of SessionToken or ChallengeToken is set.
type LoginResult struct {
	SessionToken      string
	ChallengeToken    string
	TwoFactorRequired bool
}
