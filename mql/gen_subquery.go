package mql

import (
	"fmt"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// Subqueries compile to a correlated $lookup against their own pipeline.
// Outer column references hit capturedVar during inner compilation and
// come back as let bindings, so correlation nests arbitrarily deep.

const (
	// scalar use, first column of the first row
	wrapNone = iota
	// membership use, the whole first column as a value array
	wrapValues
)

func (self *queryCompiler) genSubquery(p *plan.Plan, wrap int) (interface{}, error) {
	if len(p.Columns) != 1 {
		return nil, unsupported("subquery must select exactly one column")
	}
	field := p.Columns[0].Alias

	child := newQueryCompiler(p, self.catalog, self)
	q, err := child.compile()
	if err != nil {
		return nil, err
	}
	if q.Empty() {
		if wrap == wrapValues {
			return bson.A{}, nil
		}
		return nil, nil
	}

	name := fmt.Sprintf(subqueryTemplate, self.subIdx)
	self.subIdx++
	q.lookupSpec = &subqueryLookup{as: name, let: child.letDoc()}

	if wrap == wrapValues {
		// fold the result rows into a single document holding the value
		// array, $ifNull turns the no row case into an empty array
		project := bson.D{{
			Key: field,
			Value: bson.D{{Key: "$ifNull", Value: bson.A{
				bson.D{{Key: "$getField", Value: bson.D{
					{Key: "input", Value: bson.D{{
						Key: "$arrayElemAt", Value: bson.A{"$group", 0},
					}}},
					{Key: "field", Value: "tmp_name"},
				}}},
				bson.A{},
			}}},
		}}
		if field != "_id" {
			project = append(project, bson.E{Key: "_id", Value: 0})
		}
		q.trailing = []bson.D{
			{{Key: "$facet", Value: bson.D{{
				Key: "group",
				Value: bson.A{bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: nil},
					{Key: "tmp_name", Value: bson.D{{
						Key: "$addToSet", Value: "$" + field,
					}}},
				}}}},
			}}}},
			{{Key: "$project", Value: project}},
		}
	}

	self.subqueries = append(self.subqueries, q)
	return "$" + name + "." + field, nil
}

// genExists compiles an existence test. The embedded plan is capped at
// one row, after the lookup collapses the test is a null check on the
// spliced field.
func (self *queryCompiler) genExists(e *plan.Exists) (interface{}, error) {
	child := newQueryCompiler(e.Plan, self.catalog, self)
	q, err := child.compile()
	if err != nil {
		return nil, err
	}
	if q.Empty() {
		return bson.D{{Key: "$literal", Value: false}}, nil
	}
	if q.limit < 0 || q.limit > 1 {
		q.limit = 1
	}

	name := fmt.Sprintf(subqueryTemplate, self.subIdx)
	self.subIdx++
	q.lookupSpec = &subqueryLookup{as: name, let: child.letDoc()}
	self.subqueries = append(self.subqueries, q)

	return bson.D{{Key: "$ne", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$" + name, nil}}},
		nil,
	}}}, nil
}
