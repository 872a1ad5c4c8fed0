package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apikeys"
)

// APIKeyStore implements apikeys.Store on MongoDB.
type APIKeyStore struct {
	col *mongo.Collection
}

// APIKeys returns the API key store.
func (s *Store) APIKeys() *APIKeyStore {
	return &APIKeyStore{col: s.db.Collection(colAPIKeys)}
}

func (s *APIKeyStore) Create(ctx context.Context, key *apikeys.Key) error {
	if key.ID == "" {
		key.ID = newID()
	}
	if _, err := s.col.InsertOne(ctx, key); err != nil {
		return mapWriteErr(err, "api key already exists")
	}
	return nil
}

func (s *APIKeyStore) GetByID(ctx context.Context, orgID, id string) (*apikeys.Key, error) {
	var key apikeys.Key
	err := s.col.FindOne(ctx, bson.M{"_id": id, "organizationId": orgID}).Decode(&key)
	if err != nil {
		return nil, mapFindErr(err, "api key not found")
	}
	return &key, nil
}

func (s *APIKeyStore) GetByHash(ctx context.Context, hash string) (*apikeys.Key, error) {
	var key apikeys.Key
	err := s.col.FindOne(ctx, bson.M{"hash": hash}).Decode(&key)
	if err != nil {
		return nil, mapFindErr(err, "api key not found")
	}
	return &key, nil
}

func (s *APIKeyStore) ListByOrg(ctx context.Context, orgID string) ([]*apikeys.Key, error) {
	cur, err := s.col.Find(ctx, bson.M{"organizationId": orgID})
	if err != nil {
		return nil, err
	}
	var out []*apikeys.Key
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *APIKeyStore) Delete(ctx context.Context, orgID, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "organizationId": orgID})
	return err
}

func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastUsedAt": at}})
	return err
}
