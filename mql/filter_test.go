package mql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/docquery/sql2mongo/plan"
)

func col(name string) *plan.ColumnRef {
	return &plan.ColumnRef{Name: name}
}

func lit(v interface{}, ty plan.FieldType) *plan.Literal {
	return &plan.Literal{Value: v, Ty: ty}
}

func eq(name string, v interface{}) *plan.Comparison {
	return &plan.Comparison{LHS: col(name), Op: plan.CmpEq, RHS: lit(v, plan.TypeInt)}
}

func cmpOp(name string, op int, v interface{}) *plan.Comparison {
	return &plan.Comparison{LHS: col(name), Op: op, RHS: lit(v, plan.TypeInt)}
}

func compileWhere(t *testing.T, where *plan.Cond) *Query {
	q, err := Compile(&plan.Plan{
		Collection: "t",
		Columns: []plan.SelectColumn{
			{Alias: "a", Expr: col("a")},
		},
		Where: where,
	}, &Config{})
	assert.NoError(t, err)
	return q
}

func TestMatchLeafForms(t *testing.T) {
	assert := assert.New(t)

	q := compileWhere(t, plan.NewAnd(eq("a", 1)))
	assert.Equal(bson.D{{Key: "a", Value: 1}}, q.match)

	q = compileWhere(t, plan.NewAnd(cmpOp("a", plan.CmpGt, 3)))
	assert.Equal(bson.D{{Key: "a", Value: bson.D{{Key: "$gt", Value: 3}}}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpIn,
		RHS: lit([]interface{}{1, 2}, plan.TypeInt),
	}))
	assert.Equal(bson.D{{Key: "a", Value: bson.D{{Key: "$in", Value: bson.A{1, 2}}}}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpRange,
		RHS: lit([]interface{}{1, 9}, plan.TypeInt),
	}))
	assert.Equal(bson.D{{Key: "a", Value: bson.D{
		{Key: "$gte", Value: 1},
		{Key: "$lte", Value: 9},
	}}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpIsNull,
		RHS: lit(true, plan.TypeBool),
	}))
	assert.Equal(bson.D{{Key: "a", Value: nil}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpIsNull,
		RHS: lit(false, plan.TypeBool),
	}))
	assert.Equal(bson.D{{Key: "a", Value: bson.D{{Key: "$ne", Value: nil}}}}, q.match)
}

func TestMatchPatterns(t *testing.T) {
	assert := assert.New(t)

	q := compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("name"),
		Op:  plan.CmpStartsWith,
		RHS: lit("a.b", plan.TypeString),
	}))
	assert.Equal(bson.D{{
		Key:   "name",
		Value: primitive.Regex{Pattern: `^a\.b`},
	}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("name"),
		Op:  plan.CmpIContains,
		RHS: lit("x+y", plan.TypeString),
	}))
	assert.Equal(bson.D{{
		Key:   "name",
		Value: primitive.Regex{Pattern: `x\+y`, Options: "i"},
	}}, q.match)

	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("name"),
		Op:  plan.CmpRegex,
		RHS: lit("^x[0-9]+$", plan.TypeString),
	}))
	assert.Equal(bson.D{{
		Key:   "name",
		Value: primitive.Regex{Pattern: "^x[0-9]+$"},
	}}, q.match)
}

func TestMatchMergeSameField(t *testing.T) {
	assert := assert.New(t)

	// scalar + scalar
	q := compileWhere(t, plan.NewAnd(eq("a", 1), eq("a", 2)))
	assert.Equal(bson.D{{
		Key:   "a",
		Value: bson.D{{Key: "$all", Value: bson.A{1, 2}}},
	}}, q.match)

	// scalar + negated scalar
	q = compileWhere(t, plan.NewAnd(eq("a", 1), plan.NewNot(eq("a", 2))))
	assert.Equal(bson.D{{
		Key: "a",
		Value: bson.D{
			{Key: "$all", Value: bson.A{1}},
			{Key: "$nin", Value: bson.A{2}},
		},
	}}, q.match)

	// negated + negated
	q = compileWhere(t, plan.NewAnd(plan.NewNot(eq("a", 1)), plan.NewNot(eq("a", 2))))
	assert.Equal(bson.D{{
		Key:   "a",
		Value: bson.D{{Key: "$nin", Value: bson.A{1, 2}}},
	}}, q.match)

	// three negations keep extending the $nin list
	q = compileWhere(t, plan.NewAnd(
		plan.NewNot(eq("a", 1)),
		plan.NewNot(eq("a", 2)),
		plan.NewNot(eq("a", 3)),
	))
	assert.Equal(bson.D{{
		Key:   "a",
		Value: bson.D{{Key: "$nin", Value: bson.A{1, 2, 3}}},
	}}, q.match)

	// membership union
	q = compileWhere(t, plan.NewAnd(
		&plan.Comparison{LHS: col("a"), Op: plan.CmpIn, RHS: lit([]interface{}{1, 2}, plan.TypeInt)},
		&plan.Comparison{LHS: col("a"), Op: plan.CmpIn, RHS: lit([]interface{}{2, 3}, plan.TypeInt)},
	))
	assert.Equal(bson.D{{
		Key:   "a",
		Value: bson.D{{Key: "$in", Value: bson.A{1, 2, 3}}},
	}}, q.match)

	// disjoint operator key union
	q = compileWhere(t, plan.NewAnd(cmpOp("a", plan.CmpGt, 1), cmpOp("a", plan.CmpLt, 5)))
	assert.Equal(bson.D{{
		Key: "a",
		Value: bson.D{
			{Key: "$gt", Value: 1},
			{Key: "$lt", Value: 5},
		},
	}}, q.match)

	// same operator twice cannot merge, second condition survives in $and
	q = compileWhere(t, plan.NewAnd(cmpOp("a", plan.CmpGt, 1), cmpOp("a", plan.CmpGt, 2)))
	assert.Equal(bson.D{
		{Key: "a", Value: bson.D{{Key: "$gt", Value: 1}}},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "a", Value: bson.D{{Key: "$gt", Value: 2}}}},
		}},
	}, q.match)
}

func TestMatchDisjunction(t *testing.T) {
	assert := assert.New(t)

	q := compileWhere(t, plan.NewOr(eq("a", 1), eq("b", 2)))
	assert.Equal(bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "a", Value: 1}},
		bson.D{{Key: "b", Value: 2}},
	}}}, q.match)

	// negation distributes, the two $ne conditions then merge
	q = compileWhere(t, plan.NewNot(plan.NewOr(eq("a", 1), eq("a", 2))))
	assert.Equal(bson.D{{
		Key:   "a",
		Value: bson.D{{Key: "$nin", Value: bson.A{1, 2}}},
	}}, q.match)

	// double negation cancels out
	q = compileWhere(t, plan.NewNot(plan.NewNot(plan.NewAnd(eq("a", 1)))))
	assert.Equal(bson.D{{Key: "a", Value: 1}}, q.match)
}

func TestMatchNestedOrRejected(t *testing.T) {
	assert := assert.New(t)

	_, err := Compile(&plan.Plan{
		Collection: "t",
		Where: plan.NewOr(
			plan.NewOr(eq("a", 1), eq("a", 2)),
			eq("b", 3),
		),
	}, &Config{})

	var malformed *MalformedTreeError
	assert.Error(err)
	assert.True(errors.As(err, &malformed))
	assert.True(errors.Is(err, ErrUnsupported))

	// a negated AND turns into the same shape and is rejected too
	_, err = Compile(&plan.Plan{
		Collection: "t",
		Where: plan.NewOr(
			plan.NewNot(plan.NewAnd(eq("a", 1), eq("a", 2))),
			eq("b", 3),
		),
	}, &Config{})
	assert.True(errors.As(err, &malformed))
}

func TestMatchStaticResults(t *testing.T) {
	assert := assert.New(t)

	// a Nothing leaf empties the whole conjunction
	q := compileWhere(t, plan.NewAnd(eq("a", 1), &plan.Nothing{}))
	assert.True(q.Empty())

	// negated it matches everything and vanishes
	q = compileWhere(t, plan.NewNot(&plan.Nothing{}))
	assert.Nil(q.match)
	assert.False(q.Empty())

	// synthetic leaves are dropped
	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS:       col("a"),
		Op:        plan.CmpIsNull,
		RHS:       lit(true, plan.TypeBool),
		Synthetic: true,
	}))
	assert.Nil(q.match)

	// membership over an empty list matches nothing
	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpIn,
		RHS: lit([]interface{}{}, plan.TypeInt),
	}))
	assert.True(q.Empty())

	// in a disjunction the empty branch just disappears
	q = compileWhere(t, plan.NewOr(
		&plan.Comparison{LHS: col("a"), Op: plan.CmpIn, RHS: lit([]interface{}{}, plan.TypeInt)},
		eq("b", 2),
	))
	assert.Equal(bson.D{{Key: "b", Value: 2}}, q.match)
}

func TestMatchComputedLeftSide(t *testing.T) {
	assert := assert.New(t)

	// a computed left side falls back to $expr form
	q := compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: &plan.Combined{Op: plan.OpAdd, LHS: col("a"), RHS: col("b")},
		Op:  plan.CmpGt,
		RHS: lit(10, plan.TypeInt),
	}))
	assert.Equal(bson.D{{Key: "$expr", Value: bson.D{{
		Key: "$gt",
		Value: bson.A{
			bson.D{{Key: "$add", Value: bson.A{"$a", "$b"}}},
			bson.D{{Key: "$literal", Value: 10}},
		},
	}}}}, q.match)

	// column against column likewise
	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpEq,
		RHS: col("b"),
	}))
	assert.Equal(bson.D{{Key: "$expr", Value: bson.D{{
		Key:   "$eq",
		Value: bson.A{"$a", "$b"},
	}}}}, q.match)
}

func TestExprNullGuards(t *testing.T) {
	assert := assert.New(t)

	// operator form comparisons sort null below everything, $lt needs
	// the explicit null exclusion
	q := compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpLt,
		RHS: col("b"),
	}))
	assert.Equal(bson.D{{Key: "$expr", Value: bson.D{{
		Key: "$and",
		Value: bson.A{
			bson.D{{Key: "$lt", Value: bson.A{"$a", "$b"}}},
			bson.D{{Key: "$ne", Value: bson.A{"$a", nil}}},
		},
	}}}}, q.match)

	// $gt does not, null can never exceed a value
	q = compileWhere(t, plan.NewAnd(&plan.Comparison{
		LHS: col("a"),
		Op:  plan.CmpGt,
		RHS: col("b"),
	}))
	assert.Equal(bson.D{{Key: "$expr", Value: bson.D{{
		Key:   "$gt",
		Value: bson.A{"$a", "$b"},
	}}}}, q.match)
}
