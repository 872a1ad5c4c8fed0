package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/orgs"
)

// OrganizationStore implements orgs.OrganizationStore on MongoDB.
type OrganizationStore struct {
	col *mongo.Collection
}

// Organizations returns the organization store.
func (s *Store) Organizations() *OrganizationStore {
	return &OrganizationStore{col: s.db.Collection(colOrganizations)}
}

func (s *OrganizationStore) Create(ctx context.Context, org *orgs.Organization) error {
	if org.ID == "" {
		org.ID = newID()
	}
	org.CreatedAt = time.Now().UTC()
	_, err := s.col.InsertOne(ctx, org)
	return err
}

func (s *OrganizationStore) GetByID(ctx context.Context, id string) (*orgs.Organization, error) {
	var org orgs.Organization
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&org)
	if err != nil {
		return nil, mapFindErr(err, "organization not found")
	}
	return &org, nil
}

func (s *OrganizationStore) GetByIDs(ctx context.Context, ids []string) ([]*orgs.Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var out []*orgs.Organization
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *OrganizationStore) Update(ctx context.Context, org *orgs.Organization) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": org.ID}, org)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("organization not found")
	}
	return nil
}

func (s *OrganizationStore) Delete(ctx context.Context, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
