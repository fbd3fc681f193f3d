package mql

import (
	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// Set combinators. UNION maps onto $unionWith, the first branch runs as
// the main pipeline and every further branch is spliced in. There is no
// server primitive for INTERSECT or EXCEPT, those fail compilation.
//
// Every branch is forced through a $project so all branches arrive with
// the same document shape, otherwise deduplication would tell identical
// rows apart by stray stored fields.

func (self *queryCompiler) genCombinator() (string, []bson.D, static, error) {
	comb := self.query.Combinator
	if comb.Op != plan.SetUnion {
		return "", nil, notStatic, unsupported(
			"set combinator %s", plan.SetOpName(comb.Op),
		)
	}

	type branch struct {
		q *Query
	}
	branches := []branch{}
	for _, sub := range comb.Plans {
		child := newQueryCompiler(sub, self.catalog, nil)
		child.forceProject = true
		q, err := child.compile()
		if err != nil {
			return "", nil, notStatic, err
		}
		if q.Empty() {
			continue
		}
		branches = append(branches, branch{q: q})
	}
	if len(branches) == 0 {
		return "", nil, staticEmpty, nil
	}

	first := branches[0].q
	stages := append([]bson.D{}, first.Pipeline()...)
	for _, b := range branches[1:] {
		stages = append(stages, bson.D{{Key: "$unionWith", Value: bson.D{
			{Key: "coll", Value: b.q.Collection()},
			{Key: "pipeline", Value: b.q.Pipeline()},
		}}})
	}

	if !comb.All {
		ids := bson.D{}
		for _, f := range self.combinedShape(first) {
			ids = append(ids, bson.E{Key: f, Value: "$" + f})
		}
		stages = append(stages,
			bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: ids}}}},
			bson.D{{Key: "$replaceRoot", Value: bson.D{{
				Key: "newRoot", Value: "$_id",
			}}}},
		)
	}
	return first.Collection(), stages, notStatic, nil
}

// combinedShape lists the output field names of the combined rows, from
// the outer column list when present, else from the first branch.
func (self *queryCompiler) combinedShape(first *Query) []string {
	cols := self.columns
	out := []string{}
	for _, c := range cols {
		out = append(out, c.Alias)
	}
	if len(out) > 0 {
		return out
	}
	if first.decode != nil {
		return first.decode.Columns()
	}
	return nil
}
