package exec

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Failure categories. Callers branch on these with errors.Is, the
// concrete driver error stays reachable through Unwrap.
var (
	// ErrConstraint marks unique index violations
	ErrConstraint = errors.New("constraint violation")
	// ErrOperation marks every other server or transport failure
	ErrOperation = errors.New("operation failed")
)

type execError struct {
	kind       error
	collection string
	cause      error
}

func (self *execError) Error() string {
	return fmt.Sprintf("%s: collection %s: %v", self.kind, self.collection, self.cause)
}

func (self *execError) Unwrap() error { return self.cause }

func (self *execError) Is(target error) bool { return target == self.kind }

// DatabaseRunner runs pipelines against a live database.
type DatabaseRunner struct {
	db        *mongo.Database
	batchSize int32
}

func NewDatabaseRunner(db *mongo.Database) *DatabaseRunner {
	return &DatabaseRunner{db: db, batchSize: 100}
}

// SetBatchSize overrides the cursor batch size, zero restores the server
// default.
func (self *DatabaseRunner) SetBatchSize(n int32) { self.batchSize = n }

func (self *DatabaseRunner) Aggregate(
	ctx context.Context, collection string, pipeline []bson.D,
) (Cursor, error) {
	opts := options.Aggregate()
	if self.batchSize > 0 {
		opts = opts.SetBatchSize(self.batchSize)
	}
	cur, err := self.db.Collection(collection).Aggregate(
		ctx, mongo.Pipeline(pipeline), opts,
	)
	if err != nil {
		return nil, categorize(collection, err)
	}
	return cur, nil
}

func categorize(collection string, err error) error {
	kind := ErrOperation
	if mongo.IsDuplicateKeyError(err) {
		kind = ErrConstraint
	}
	return &execError{
		kind:       kind,
		collection: collection,
		cause:      errors.Wrap(err, "aggregate"),
	}
}
