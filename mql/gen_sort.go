package mql

import (
	"fmt"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// genOrdering plans the $sort document. A plain field or grouped field
// sorts by its own name. Anything computed sorts through a synthetic
// helper field, and an explicit null placement adds a second helper that
// flags null so the flag can sort ahead of the value.
func (self *queryCompiler) genOrdering() ([]fieldExpr, bson.D, error) {
	if len(self.orderBy) == 0 {
		return nil, nil, nil
	}

	helpers := []fieldExpr{}
	sortDoc := bson.D{}

	for _, o := range self.orderBy {
		var value interface{}
		key := self.sortKey(o.Expr)
		if key == "" {
			v, err := self.genExpr(o.Expr)
			if err != nil {
				return nil, nil, err
			}
			key = fmt.Sprintf(orderTemplate, self.orderIdx)
			self.orderIdx++
			helpers = append(helpers, fieldExpr{name: key, value: v})
			value = v
		} else {
			value = "$" + key
		}

		if o.NullsFirst || o.NullsLast {
			flag := fmt.Sprintf(orderTemplate, self.orderIdx)
			self.orderIdx++
			// computed off the sorted value, not the helper field, the
			// flag and the helper materialize in the same stage
			helpers = append(helpers, fieldExpr{
				name: flag,
				value: bson.D{{Key: "$cond", Value: bson.D{
					{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{
						bson.D{{Key: "$ifNull", Value: bson.A{value, nil}}},
						nil,
					}}}},
					{Key: "then", Value: 1},
					{Key: "else", Value: 0},
				}}},
			})
			flagDir := 1
			if o.NullsFirst {
				flagDir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: flag, Value: flagDir})
		}

		dir := 1
		if o.Descending {
			dir = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: key, Value: dir})
	}
	return helpers, sortDoc, nil
}

// sortKey resolves an ordering expression to an existing document path,
// empty when a helper field is required.
func (self *queryCompiler) sortKey(e plan.Expr) string {
	switch n := e.(type) {
	case *plan.ColumnRef:
		if path, ok := self.matchFieldPath(n); ok {
			return path
		}
	case *plan.Ref:
		return n.Name
	}
	return ""
}
