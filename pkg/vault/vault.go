// Package vault stores third-party credentials (cloud provider keys,
// registry tokens) encrypted at rest. List and Get return metadata only;
// plaintext payloads are opened solely for internal consumers such as the
// deployment dispatcher.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/crypto"
)

// Kind identifies which provider a credential belongs to and therefore the
// shape of its payload.
type Kind string

const (
	KindDockerHub   Kind = "docker-hub"
	KindAWS         Kind = "aws"
	KindAzure       Kind = "azure"
	KindGoogleCloud Kind = "google-cloud"
	KindOVH         Kind = "ovh"
)

var validKinds = map[Kind]bool{
	KindDockerHub:   true,
	KindAWS:         true,
	KindAzure:       true,
	KindGoogleCloud: true,
	KindOVH:         true,
}

// Valid reports whether k is a known credential kind.
func (k Kind) Valid() bool { return validKinds[k] }

// Credential is a stored credential. Payload is the cipher-sealed JSON
// document; it never appears in API responses.
type Credential struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	OrganizationID string    `bson:"organizationId" json:"organization_id"`
	Kind           Kind      `bson:"kind" json:"kind"`
	Name           string    `bson:"name" json:"name"`
	Payload        []byte    `bson:"payload" json:"-"`
	CreatedAt      time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updated_at"`
}

// Store is the persistence contract for credentials.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	GetByID(ctx context.Context, orgID, id string) (*Credential, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Credential, error)
	Update(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, orgID, id string) error
}

// Service encrypts and stores credentials.
type Service struct {
	store  Store
	cipher *crypto.Cipher
}

// NewService wires the credential vault.
func NewService(store Store, cipher *crypto.Cipher) *Service {
	return &Service{store: store, cipher: cipher}
}

// Create seals the payload and stores the credential.
func (s *Service) Create(ctx context.Context, orgID string, kind Kind, name string, payload map[string]string) (*Credential, error) {
	if !kind.Valid() {
		return nil, apierror.Validation(fmt.Sprintf("unknown credential kind %q", kind))
	}
	if name == "" {
		return nil, apierror.Validation("credential name is required")
	}
	if len(payload) == 0 {
		return nil, apierror.Validation("credential payload is required")
	}

	sealed, err := s.seal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Credential{
		OrganizationID: orgID,
		Kind:           kind,
		Name:           name,
		Payload:        sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, apierror.Internal(fmt.Errorf("store credential: %w", err))
	}
	return c, nil
}

// Get loads credential metadata. The payload stays sealed.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Credential, error) {
	c, err := s.store.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("credential not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get credential: %w", err))
	}
	return c, nil
}

// List lists an organization's credentials, metadata only.
func (s *Service) List(ctx context.Context, orgID string) ([]*Credential, error) {
	creds, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list credentials: %w", err))
	}
	return creds, nil
}

// Update replaces a credential's name and payload.
func (s *Service) Update(ctx context.Context, orgID, id, name string, payload map[string]string) (*Credential, error) {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		c.Name = name
	}
	if len(payload) > 0 {
		sealed, err := s.seal(payload)
		if err != nil {
			return nil, err
		}
		c.Payload = sealed
	}
	c.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, c); err != nil {
		return nil, apierror.Internal(fmt.Errorf("update credential: %w", err))
	}
	return c, nil
}

// Delete removes a credential.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, orgID, id); err != nil {
		return apierror.Internal(fmt.Errorf("delete credential: %w", err))
	}
	return nil
}

// Open decrypts a credential's payload for internal use. Callers must not
// forward the result to API responses.
func (s *Service) Open(ctx context.Context, orgID, id string) (map[string]string, error) {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.cipher.Decrypt(c.Payload)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("open credential: %w", err))
	}
	var payload map[string]string
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, apierror.Internal(fmt.Errorf("decode credential: %w", err))
	}
	return payload, nil
}

// OpenByKind opens the organization's sole credential of the given kind.
// Used by the dispatcher to fetch cloud provider keys.
func (s *Service) OpenByKind(ctx context.Context, orgID string, kind Kind) (map[string]string, error) {
	creds, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list credentials: %w", err))
	}
	for _, c := range creds {
		if c.Kind == kind {
			return s.Open(ctx, orgID, c.ID)
		}
	}
	return nil, apierror.NotFound(fmt.Sprintf("no %s credential configured", kind))
}

func (s *Service) seal(payload map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("encode credential: %w", err))
	}
	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("seal credential: %w", err))
	}
	return sealed, nil
}
