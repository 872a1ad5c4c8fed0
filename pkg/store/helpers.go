package store

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// mapFindErr converts driver errors on single-document reads into the
// domain taxonomy.
func mapFindErr(err error, notFoundMessage string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apierror.NotFound(notFoundMessage)
	}
	return err
}

// mapWriteErr converts duplicate-key violations into conflicts.
func mapWriteErr(err error, conflictMessage string) error {
	if mongo.IsDuplicateKeyError(err) {
		return apierror.Conflict(conflictMessage)
	}
	return err
}
