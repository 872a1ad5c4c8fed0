package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// RoleStore implements orgs.RoleStore (and the policy engine's custom-role
// lookup) on MongoDB.
type RoleStore struct {
	col *mongo.Collection
}

// Roles returns the custom role store.
func (s *Store) Roles() *RoleStore {
	return &RoleStore{col: s.db.Collection(colRoles)}
}

func (s *RoleStore) Create(ctx context.Context, role *policy.Role) error {
	if role.ID == "" {
		role.ID = newID()
	}
	if _, err := s.col.InsertOne(ctx, role); err != nil {
		return mapWriteErr(err, "role already exists")
	}
	return nil
}

func (s *RoleStore) GetByID(ctx context.Context, orgID, id string) (*policy.Role, error) {
	var role policy.Role
	err := s.col.FindOne(ctx, bson.M{"_id": id, "organizationId": orgID}).Decode(&role)
	if err != nil {
		return nil, mapFindErr(err, "role not found")
	}
	return &role, nil
}

func (s *RoleStore) GetByName(ctx context.Context, orgID, name string) (*policy.Role, error) {
	var role policy.Role
	err := s.col.FindOne(ctx, bson.M{"organizationId": orgID, "name": name}).Decode(&role)
	if err != nil {
		return nil, mapFindErr(err, "role not found")
	}
	return &role, nil
}

func (s *RoleStore) ListByOrg(ctx context.Context, orgID string) ([]*policy.Role, error) {
	cur, err := s.col.Find(ctx, bson.M{"organizationId": orgID})
	if err != nil {
		return nil, err
	}
	var out []*policy.Role
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoleStore) Update(ctx context.Context, role *policy.Role) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": role.ID}, role)
	if err != nil {
		return mapWriteErr(err, "role already exists")
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("role not found")
	}
	return nil
}

func (s *RoleStore) Delete(ctx context.Context, orgID, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "organizationId": orgID})
	return err
}
