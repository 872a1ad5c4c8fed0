package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/vault"
)

// CredentialStore implements vault.Store on MongoDB. Payloads arrive
// already encrypted; this layer never sees plaintext.
type CredentialStore struct {
	col *mongo.Collection
}

// Credentials returns the credential store.
func (s *Store) Credentials() *CredentialStore {
	return &CredentialStore{col: s.db.Collection(colCredentials)}
}

func (s *CredentialStore) Create(ctx context.Context, c *vault.Credential) error {
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := s.col.InsertOne(ctx, c)
	return err
}

func (s *CredentialStore) GetByID(ctx context.Context, orgID, id string) (*vault.Credential, error) {
	var c vault.Credential
	err := s.col.FindOne(ctx, bson.M{"_id": id, "organizationId": orgID}).Decode(&c)
	if err != nil {
		return nil, mapFindErr(err, "credential not found")
	}
	return &c, nil
}

func (s *CredentialStore) ListByOrg(ctx context.Context, orgID string) ([]*vault.Credential, error) {
	cur, err := s.col.Find(ctx, bson.M{"organizationId": orgID})
	if err != nil {
		return nil, err
	}
	var out []*vault.Credential
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CredentialStore) Update(ctx context.Context, c *vault.Credential) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("credential not found")
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, orgID, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "organizationId": orgID})
	return err
}
