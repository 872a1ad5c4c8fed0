// Package store implements the persistence contracts of the domain
// packages on MongoDB. Documents carry ObjectID-hex string identifiers;
// uniqueness constraints live in indexes so concurrent writers cannot race
// past application-level checks.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Collection names.
const (
	colUsers         = "users"
	colOrganizations = "organizations"
	colMemberships   = "memberships"
	colInvitations   = "invitations"
	colRoles         = "roles"
	colProjects      = "projects"
	colAPIKeys       = "api_keys"
	colCredentials   = "credentials"
)

// Store owns the database handle and hands out typed sub-stores.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and pings the primary.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique indexes the domain invariants rely on.
// Safe to run on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "email.address", Value: 1}}, Options: unique},
		},
		colMemberships: {
			{Keys: bson.D{{Key: "organizationId", Value: 1}, {Key: "userId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		},
		colProjects: {
			{Keys: bson.D{{Key: "organizationId", Value: 1}, {Key: "name", Value: 1}}, Options: unique},
		},
		colRoles: {
			{Keys: bson.D{{Key: "organizationId", Value: 1}, {Key: "name", Value: 1}}, Options: unique},
		},
		colAPIKeys: {
			{Keys: bson.D{{Key: "hash", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "organizationId", Value: 1}}},
		},
		colInvitations: {
			{Keys: bson.D{{Key: "organizationId", Value: 1}}},
			{Keys: bson.D{{Key: "inviteeEmail", Value: 1}, {Key: "state", Value: 1}}},
		},
		colCredentials: {
			{Keys: bson.D{{Key: "organizationId", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// newID mints an ObjectID-hex identifier.
func newID() string {
	return primitive.NewObjectID().Hex()
}
