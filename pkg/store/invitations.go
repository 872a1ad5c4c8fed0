package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/orgs"
)

// InvitationStore implements orgs.InvitationStore on MongoDB.
type InvitationStore struct {
	col *mongo.Collection
}

// Invitations returns the invitation store.
func (s *Store) Invitations() *InvitationStore {
	return &InvitationStore{col: s.db.Collection(colInvitations)}
}

func (s *InvitationStore) Create(ctx context.Context, inv *orgs.Invitation) error {
	if inv.ID == "" {
		inv.ID = newID()
	}
	_, err := s.col.InsertOne(ctx, inv)
	return err
}

func (s *InvitationStore) GetByID(ctx context.Context, orgID, id string) (*orgs.Invitation, error) {
	var inv orgs.Invitation
	err := s.col.FindOne(ctx, bson.M{"_id": id, "organizationId": orgID}).Decode(&inv)
	if err != nil {
		return nil, mapFindErr(err, "invitation not found")
	}
	return &inv, nil
}

func (s *InvitationStore) ListByOrg(ctx context.Context, orgID string) ([]*orgs.Invitation, error) {
	return s.find(ctx, bson.M{"organizationId": orgID})
}

func (s *InvitationStore) ListByEmail(ctx context.Context, email string) ([]*orgs.Invitation, error) {
	return s.find(ctx, bson.M{"inviteeEmail": email, "state": orgs.InvitationPending})
}

func (s *InvitationStore) find(ctx context.Context, filter bson.M) ([]*orgs.Invitation, error) {
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*orgs.Invitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionState moves an invitation out of pending with a compare-and-set
// filter. A lost race surfaces as a conflict, keeping terminal states
// immutable.
func (s *InvitationStore) TransitionState(ctx context.Context, id string, to orgs.InvitationState) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "state": orgs.InvitationPending},
		bson.M{"$set": bson.M{"state": to}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apierror.Conflict("invitation is no longer pending")
	}
	return nil
}

func (s *InvitationStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"state": orgs.InvitationPending, "expiresAt": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"state": orgs.InvitationExpired}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
