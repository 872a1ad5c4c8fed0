package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/auth"
)

// UserStore implements auth.UserStore on MongoDB.
type UserStore struct {
	col *mongo.Collection
}

// Users returns the user store.
func (s *Store) Users() *UserStore {
	return &UserStore{col: s.db.Collection(colUsers)}
}

func (s *UserStore) Create(ctx context.Context, user *auth.User) error {
	if user.ID == "" {
		user.ID = newID()
	}
	user.CreatedAt = time.Now().UTC()
	if _, err := s.col.InsertOne(ctx, user); err != nil {
		return mapWriteErr(err, "an account with this email already exists")
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*auth.User, error) {
	var user auth.User
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		return nil, mapFindErr(err, "user not found")
	}
	return &user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	var user auth.User
	err := s.col.FindOne(ctx, bson.M{"email.address": email}).Decode(&user)
	if err != nil {
		return nil, mapFindErr(err, "user not found")
	}
	return &user, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id string, p auth.Password) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"password": p}})
}

func (s *UserStore) SetEmailVerified(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"email.verified": true}})
}

func (s *UserStore) SetPhone(ctx context.Context, id string, number string) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"phone": auth.Phone{Number: number, Verified: false},
	}})
}

func (s *UserStore) UpdateTwoFactor(ctx context.Context, id string, tf auth.TwoFactor) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"twoFactor": tf}})
}

func (s *UserStore) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("user not found")
	}
	return nil
}
