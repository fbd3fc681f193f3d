package exec

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/docquery/sql2mongo/mql"
	"github.com/docquery/sql2mongo/plan"
)

type fakeCursor struct {
	docs []bson.M
	pos  int
}

func (self *fakeCursor) Next(ctx context.Context) bool {
	self.pos++
	return self.pos <= len(self.docs)
}

func (self *fakeCursor) Decode(val interface{}) error {
	*(val.(*bson.M)) = self.docs[self.pos-1]
	return nil
}

func (self *fakeCursor) Err() error                      { return nil }
func (self *fakeCursor) Close(ctx context.Context) error { return nil }

type fakeRunner struct {
	collection string
	pipeline   []bson.D
	docs       []bson.M
	calls      int
}

func (self *fakeRunner) Aggregate(
	ctx context.Context, collection string, pipeline []bson.D,
) (Cursor, error) {
	self.calls++
	self.collection = collection
	self.pipeline = pipeline
	return &fakeCursor{docs: self.docs}, nil
}

func compile(t *testing.T, p *plan.Plan) *mql.Query {
	q, err := mql.Compile(p, &mql.Config{})
	assert.NoError(t, err)
	return q
}

func TestRun(t *testing.T) {
	assert := assert.New(t)

	q := compile(t, &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "status", Expr: &plan.ColumnRef{Name: "status"}},
			{Alias: "total", Expr: &plan.ColumnRef{Name: "total"}},
		},
	})
	runner := &fakeRunner{docs: []bson.M{
		{"status": "open", "total": 10},
		{"status": "done", "total": 20},
	}}

	rows, err := Run(context.Background(), runner, q)
	assert.NoError(err)
	assert.Equal("orders", runner.collection)
	assert.Equal([]string{"status", "total"}, rows.Columns())

	all, err := All(context.Background(), rows)
	assert.NoError(err)
	assert.Equal([][]interface{}{
		{"open", 10},
		{"done", 20},
	}, all)
}

func TestRunSkipsStaticallyEmptyQuery(t *testing.T) {
	assert := assert.New(t)

	q := compile(t, &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "status", Expr: &plan.ColumnRef{Name: "status"}},
		},
		Where: &plan.Cond{Children: []plan.Node{&plan.Nothing{}}},
	})
	assert.True(q.Empty())

	runner := &fakeRunner{}
	rows, err := Run(context.Background(), runner, q)
	assert.NoError(err)

	// the server is never consulted
	assert.Equal(0, runner.calls)
	assert.False(rows.Next(context.Background()))
	assert.NoError(rows.Err())
	assert.Equal([]string{"status"}, rows.Columns())
}

func TestRunPassesPipeline(t *testing.T) {
	assert := assert.New(t)

	q := compile(t, &plan.Plan{
		Collection: "orders",
		Where: &plan.Cond{Children: []plan.Node{&plan.Comparison{
			LHS: &plan.ColumnRef{Name: "status"},
			Op:  plan.CmpEq,
			RHS: &plan.Literal{Value: "open", Ty: plan.TypeString},
		}}},
	})

	runner := &fakeRunner{}
	rows, err := Run(context.Background(), runner, q)
	assert.NoError(err)
	defer rows.Close(context.Background())

	assert.Equal([]bson.D{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: "open"}}}},
	}, runner.pipeline)
}

func TestErrorCategories(t *testing.T) {
	assert := assert.New(t)

	cause := errors.New("socket closed")
	err := categorize("orders", cause)
	assert.ErrorIs(err, ErrOperation)
	assert.NotErrorIs(err, ErrConstraint)
	assert.ErrorIs(err, cause)
	assert.Contains(err.Error(), "orders")

	// unique index violations map onto the constraint category
	err = categorize("orders", mongo.CommandError{Code: 11000})
	assert.ErrorIs(err, ErrConstraint)
	assert.NotErrorIs(err, ErrOperation)
}
