package mql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/docquery/sql2mongo/plan"
)

func joinedPlan(outer bool) *plan.Plan {
	return &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "total", Expr: col("total")},
			{Alias: "name", Expr: &plan.ColumnRef{Collection: "c", Name: "name"}},
		},
		Joins: []plan.Join{{
			Alias:      "c",
			Collection: "customers",
			Outer:      outer,
			Keys: []plan.JoinPair{{
				Parent: col("customer_id"),
				Child:  &plan.ColumnRef{Collection: "c", Name: "_id"},
			}},
		}},
	}
}

func TestInnerJoinLookup(t *testing.T) {
	assert := assert.New(t)

	q, err := Compile(joinedPlan(false), &Config{})
	assert.NoError(err)

	assert.Equal([]bson.D{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "customers"},
			{Key: "let", Value: bson.D{{
				Key: "parent__field__0", Value: "$customer_id",
			}}},
			{Key: "pipeline", Value: []bson.D{
				{{Key: "$match", Value: bson.D{{
					Key: "$expr",
					Value: bson.D{{Key: "$eq", Value: bson.A{
						"$$parent__field__0", "$_id",
					}}},
				}}}},
			}},
			{Key: "as", Value: "c"},
		}}},
		{{Key: "$unwind", Value: "$c"}},
	}, q.lookups)

	// joined columns project through the flattened alias
	assert.Equal(bson.D{
		{Key: "total", Value: 1},
		{Key: "name", Value: "$c.name"},
		{Key: "_id", Value: 0},
	}, q.project)
}

func TestJoinedColumnUnderStoredName(t *testing.T) {
	assert := assert.New(t)

	// a joined column keeping its stored name still lives nested under
	// the lookup alias, it must be hoisted by a projection or it would
	// decode off the wrong document level
	q, err := Compile(&plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "name", Expr: &plan.ColumnRef{Collection: "c", Name: "name"}},
		},
		Joins: []plan.Join{{
			Alias:      "c",
			Collection: "customers",
			Keys: []plan.JoinPair{{
				Parent: col("customer_id"),
				Child:  &plan.ColumnRef{Collection: "c", Name: "_id"},
			}},
		}},
	}, &Config{})
	assert.NoError(err)

	assert.Equal(bson.D{
		{Key: "name", Value: "$c.name"},
		{Key: "_id", Value: 0},
	}, q.project)
	assert.Equal([]interface{}{"alice"}, q.Decode().Row(bson.M{"name": "alice"}))
}

func TestOuterJoinPadsEmptyLookup(t *testing.T) {
	assert := assert.New(t)

	q, err := Compile(joinedPlan(true), &Config{})
	assert.NoError(err)
	assert.Len(q.lookups, 3)

	// unmatched parents keep their row, the empty lookup array is padded
	// with a null before the unwind
	assert.Equal(bson.D{{Key: "$set", Value: bson.D{{
		Key: "c",
		Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{"$c", bson.A{}}}}},
			{Key: "then", Value: bson.A{nil}},
			{Key: "else", Value: "$c"},
		}}},
	}}}}, q.lookups[1])
	assert.Equal(bson.D{{Key: "$unwind", Value: "$c"}}, q.lookups[2])
}

func TestJoinExtraCondition(t *testing.T) {
	assert := assert.New(t)

	p := joinedPlan(false)
	p.Joins[0].Extra = plan.NewAnd(&plan.Comparison{
		LHS: &plan.ColumnRef{Collection: "c", Name: "tier"},
		Op:  plan.CmpEq,
		RHS: lit("gold", plan.TypeString),
	})
	q, err := Compile(p, &Config{})
	assert.NoError(err)

	lookup, _ := dGet(q.lookups[0], "$lookup")
	pipeline, _ := dGet(lookup.(bson.D), "pipeline")
	assert.Equal([]bson.D{
		{{Key: "$match", Value: bson.D{{
			Key: "$expr",
			Value: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$$parent__field__0", "$_id"}}},
				bson.D{{Key: "$eq", Value: bson.A{"$tier", "gold"}}},
			}}}},
		}}},
	}, pipeline)
}

func TestJoinKeyTypeCoercion(t *testing.T) {
	assert := assert.New(t)

	catalog := plan.MemCatalog{
		"orders":    {"customer_id": plan.TypeString},
		"customers": {"_id": plan.TypeObjectId},
	}
	q, err := Compile(joinedPlan(false), &Config{Catalog: catalog})
	assert.NoError(err)

	// string against object id is bridged by casting the id side
	lookup, _ := dGet(q.lookups[0], "$lookup")
	pipeline, _ := dGet(lookup.(bson.D), "pipeline")
	match, _ := dGet(pipeline.([]bson.D)[0], "$match")
	expr, _ := dGet(match.(bson.D), "$expr")
	assert.Equal(bson.D{{Key: "$eq", Value: bson.A{
		"$$parent__field__0",
		bson.D{{Key: "$toString", Value: "$_id"}},
	}}}, expr)
}

func TestJoinKeyTypeMismatch(t *testing.T) {
	assert := assert.New(t)

	catalog := plan.MemCatalog{
		"orders":    {"customer_id": plan.TypeInt},
		"customers": {"_id": plan.TypeObjectId},
	}
	_, err := Compile(joinedPlan(false), &Config{Catalog: catalog})

	var mismatch *TypeMismatchError
	assert.Error(err)
	assert.True(errors.As(err, &mismatch))
	assert.Equal("_id", mismatch.Field)
}

func TestJoinedFieldInMatch(t *testing.T) {
	assert := assert.New(t)

	p := joinedPlan(false)
	p.Where = plan.NewAnd(&plan.Comparison{
		LHS: &plan.ColumnRef{Collection: "c", Name: "tier"},
		Op:  plan.CmpEq,
		RHS: lit("gold", plan.TypeString),
	})
	q, err := Compile(p, &Config{})
	assert.NoError(err)

	// the match runs after the lookup, joined fields address through the
	// unwound alias
	assert.Equal(bson.D{{Key: "c.tier", Value: "gold"}}, q.match)
}
