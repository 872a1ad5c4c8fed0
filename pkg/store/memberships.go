package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// MembershipStore implements orgs.MembershipStore (and, by subset, the
// policy engine's lookup contract) on MongoDB.
type MembershipStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

// Memberships returns the membership store.
func (s *Store) Memberships() *MembershipStore {
	return &MembershipStore{client: s.client, col: s.db.Collection(colMemberships)}
}

func membershipFilter(orgID, userID string) bson.M {
	return bson.M{"organizationId": orgID, "userId": userID}
}

func (s *MembershipStore) Create(ctx context.Context, m *policy.Membership) error {
	if _, err := s.col.InsertOne(ctx, m); err != nil {
		return mapWriteErr(err, "user is already a member")
	}
	return nil
}

func (s *MembershipStore) Get(ctx context.Context, orgID, userID string) (*policy.Membership, error) {
	var m policy.Membership
	err := s.col.FindOne(ctx, membershipFilter(orgID, userID)).Decode(&m)
	if err != nil {
		return nil, mapFindErr(err, "membership not found")
	}
	return &m, nil
}

func (s *MembershipStore) List(ctx context.Context, orgID string) ([]*policy.Membership, error) {
	return s.find(ctx, bson.M{"organizationId": orgID})
}

func (s *MembershipStore) ListForUser(ctx context.Context, userID string) ([]*policy.Membership, error) {
	return s.find(ctx, bson.M{"userId": userID})
}

func (s *MembershipStore) find(ctx context.Context, filter bson.M) ([]*policy.Membership, error) {
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*policy.Membership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MembershipStore) UpdateRole(ctx context.Context, orgID, userID, role string) error {
	res, err := s.col.UpdateOne(ctx, membershipFilter(orgID, userID),
		bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("membership not found")
	}
	return nil
}

func (s *MembershipStore) Delete(ctx context.Context, orgID, userID string) error {
	_, err := s.col.DeleteOne(ctx, membershipFilter(orgID, userID))
	return err
}

// Transfer swaps the owner role inside a transaction so there is exactly
// one owner at every instant.
func (s *MembershipStore) Transfer(ctx context.Context, orgID, fromUserID, toUserID string) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		res, err := s.col.UpdateOne(sc,
			bson.M{"organizationId": orgID, "userId": fromUserID, "role": policy.RoleOwner},
			bson.M{"$set": bson.M{"role": policy.RoleAdmin}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, apierror.Conflict("ownership changed concurrently")
		}

		res, err = s.col.UpdateOne(sc,
			membershipFilter(orgID, toUserID),
			bson.M{"$set": bson.M{"role": policy.RoleOwner}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, apierror.NotFound("target membership not found")
		}
		return nil, nil
	})
	return err
}

func (s *MembershipStore) DeleteByOrg(ctx context.Context, orgID string) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"organizationId": orgID})
	return err
}
