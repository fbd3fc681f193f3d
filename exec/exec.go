// Package exec runs compiled queries against a document store and hands
// the results back as rows. The store is reached through the Runner
// interface so tests can execute pipelines without a server.
package exec

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/docquery/sql2mongo/mql"
)

// Cursor is the subset of the driver cursor the row reader needs.
// *mongo.Cursor satisfies it as is.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Runner executes one aggregation pipeline against a named collection.
type Runner interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) (Cursor, error)
}

// Run executes a compiled query. A statically empty query returns an
// exhausted row set without touching the runner at all.
func Run(ctx context.Context, r Runner, q *mql.Query) (*Rows, error) {
	if q.Empty() {
		return &Rows{decode: q.Decode()}, nil
	}
	cur, err := r.Aggregate(ctx, q.Collection(), q.Pipeline())
	if err != nil {
		return nil, err
	}
	return &Rows{cursor: cur, decode: q.Decode()}, nil
}

// Rows iterates the result of one query, decoding documents into rows in
// column order.
type Rows struct {
	cursor  Cursor
	decode  *mql.DecodePlan
	current bson.M
	err     error
}

func (self *Rows) Columns() []string {
	if self.decode == nil {
		return nil
	}
	return self.decode.Columns()
}

func (self *Rows) Next(ctx context.Context) bool {
	if self.cursor == nil {
		return false
	}
	if !self.cursor.Next(ctx) {
		return false
	}
	self.current = bson.M{}
	if err := self.cursor.Decode(&self.current); err != nil {
		self.err = fmt.Errorf("decode result document: %v", err)
		return false
	}
	return true
}

// Row returns the values of the current document in column order.
func (self *Rows) Row() []interface{} {
	return self.decode.Row(self.current)
}

func (self *Rows) Err() error {
	if self.err != nil {
		return self.err
	}
	if self.cursor != nil {
		return self.cursor.Err()
	}
	return nil
}

func (self *Rows) Close(ctx context.Context) error {
	if self.cursor == nil {
		return nil
	}
	return self.cursor.Close(ctx)
}

// All drains the row set and closes it.
func All(ctx context.Context, rows *Rows) ([][]interface{}, error) {
	defer rows.Close(ctx)
	out := [][]interface{}{}
	for rows.Next(ctx) {
		out = append(out, rows.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
