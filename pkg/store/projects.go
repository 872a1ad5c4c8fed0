package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/projects"
)

// ProjectStore implements projects.Store on MongoDB.
type ProjectStore struct {
	col *mongo.Collection
}

// Projects returns the project store.
func (s *Store) Projects() *ProjectStore {
	return &ProjectStore{col: s.db.Collection(colProjects)}
}

func (s *ProjectStore) Create(ctx context.Context, p *projects.Project) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()
	if _, err := s.col.InsertOne(ctx, p); err != nil {
		return mapWriteErr(err, "a project with this name already exists")
	}
	return nil
}

func (s *ProjectStore) GetByID(ctx context.Context, orgID, id string) (*projects.Project, error) {
	var p projects.Project
	err := s.col.FindOne(ctx, bson.M{"_id": id, "organizationId": orgID}).Decode(&p)
	if err != nil {
		return nil, mapFindErr(err, "project not found")
	}
	return &p, nil
}

func (s *ProjectStore) ListByOrg(ctx context.Context, orgID string) ([]*projects.Project, error) {
	cur, err := s.col.Find(ctx, bson.M{"organizationId": orgID})
	if err != nil {
		return nil, err
	}
	var out []*projects.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProjectStore) Update(ctx context.Context, p *projects.Project) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return mapWriteErr(err, "a project with this name already exists")
	}
	if res.MatchedCount == 0 {
		return apierror.NotFound("project not found")
	}
	return nil
}

func (s *ProjectStore) Delete(ctx context.Context, orgID, id string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "organizationId": orgID})
	return err
}
