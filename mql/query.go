package mql

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Query is a compiled plan. It owns everything needed to execute: the
// target collection, the assembled aggregation stages, and the decode
// plan mapping result documents back to output columns.
type Query struct {
	collection string

	lookups     []bson.D
	match       bson.D
	aggregation []bson.D
	project     bson.D
	combinator  []bson.D
	extraFields []bson.D
	sort        bson.D

	offset int64
	limit  int64

	// trailing runs after paging; membership subqueries use it to fold
	// their rows into a single value array document
	trailing []bson.D

	subqueries []*Query

	// lookupSpec is set when this query runs embedded in a parent
	// pipeline rather than standalone
	lookupSpec *subqueryLookup

	empty  bool
	decode *DecodePlan
}

// subqueryLookup describes how an embedded query is spliced into its
// parent as a $lookup stage.
type subqueryLookup struct {
	as  string
	let bson.D
}

func (self *Query) Collection() string { return self.collection }

// Empty reports that the query statically produces no rows. Callers skip
// the server round trip entirely.
func (self *Query) Empty() bool { return self.empty }

func (self *Query) Decode() *DecodePlan { return self.decode }

// Pipeline assembles the final stage list. The order is fixed and load
// bearing: joins and subqueries must resolve before filtering, filtering
// before grouping, grouping before projection, and the paging stages
// always come last so they page over the final row shape.
func (self *Query) Pipeline() []bson.D {
	out := []bson.D{}
	out = append(out, self.lookups...)
	for _, sq := range self.subqueries {
		out = append(out, sq.lookupStages()...)
	}
	if self.match != nil {
		out = append(out, bson.D{{Key: "$match", Value: self.match}})
	}
	out = append(out, self.aggregation...)
	if self.project != nil {
		out = append(out, bson.D{{Key: "$project", Value: self.project}})
	}
	out = append(out, self.combinator...)
	out = append(out, self.extraFields...)
	if self.sort != nil {
		out = append(out, bson.D{{Key: "$sort", Value: self.sort}})
	}
	if self.offset > 0 {
		out = append(out, bson.D{{Key: "$skip", Value: self.offset}})
	}
	if self.limit >= 0 {
		out = append(out, bson.D{{Key: "$limit", Value: self.limit}})
	}
	out = append(out, self.trailing...)
	return out
}

// lookupStages renders an embedded query as the $lookup splice for its
// parent pipeline, then collapses the lookup array onto its first
// element so field access reads $as.field.
func (self *Query) lookupStages() []bson.D {
	spec := self.lookupSpec
	lookup := bson.D{
		{Key: "from", Value: self.collection},
		{Key: "let", Value: spec.let},
		{Key: "pipeline", Value: self.Pipeline()},
		{Key: "as", Value: spec.as},
	}
	out := []bson.D{{{Key: "$lookup", Value: lookup}}}
	out = append(out, bson.D{{Key: "$set", Value: bson.D{{
		Key: spec.as,
		Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{
				Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$" + spec.as}}, "array"},
			}}},
			{Key: "then", Value: bson.D{{
				Key: "$arrayElemAt", Value: bson.A{"$" + spec.as, 0},
			}}},
			{Key: "else", Value: "$" + spec.as},
		}}},
	}}}})
	return out
}

func (self *Query) String() string {
	return fmt.Sprintf("Query{collection: %s, stages: %d}", self.collection, len(self.Pipeline()))
}
