package mql

import (
	"time"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DecodeField maps one output column onto the result documents.
type DecodeField struct {
	Name       string
	Collection string
	Ty         plan.FieldType
}

// DecodePlan converts result documents back into rows in column order,
// undoing the storage encodings the compiler applied to literals: date
// columns give back the date part, duration columns give back a
// time.Duration from the stored millisecond count.
type DecodePlan struct {
	fields []DecodeField
}

func (self *DecodePlan) Fields() []DecodeField { return self.fields }

func (self *DecodePlan) Columns() []string {
	out := make([]string, 0, len(self.fields))
	for _, f := range self.fields {
		out = append(out, f.Name)
	}
	return out
}

// Row pulls the column values out of one result document. Missing fields
// decode as nil, matching how the pipeline treats them.
func (self *DecodePlan) Row(doc bson.M) []interface{} {
	out := make([]interface{}, 0, len(self.fields))
	for _, f := range self.fields {
		out = append(out, decodeValue(doc[f.Name], f.Ty))
	}
	return out
}

func decodeValue(v interface{}, ty plan.FieldType) interface{} {
	if v == nil {
		return nil
	}
	switch ty {
	case plan.TypeDate:
		if dt, ok := v.(primitive.DateTime); ok {
			t := dt.Time().UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	case plan.TypeTime, plan.TypeDateTime:
		if dt, ok := v.(primitive.DateTime); ok {
			return dt.Time().UTC()
		}
	case plan.TypeDuration:
		switch ms := v.(type) {
		case int32:
			return time.Duration(ms) * time.Millisecond
		case int64:
			return time.Duration(ms) * time.Millisecond
		case float64:
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	return v
}

// decodePlan derives the decode plan from the (possibly rewritten)
// output columns.
func (self *queryCompiler) decodePlan() *DecodePlan {
	out := &DecodePlan{}
	for _, col := range self.columns {
		f := DecodeField{Name: col.Alias, Ty: col.Ty}
		expr := col.Expr
		// grouped columns were rewritten to refs, the source keeps the
		// stored column they came from
		if r, ok := expr.(*plan.Ref); ok && r.Source != nil {
			expr = r.Source
		}
		if ref, ok := expr.(*plan.ColumnRef); ok {
			f.Collection = ref.Collection
			if f.Ty == plan.TypeUnknown {
				f.Ty = self.columnType(ref)
			}
		}
		if lit, ok := expr.(*plan.Literal); ok && f.Ty == plan.TypeUnknown {
			f.Ty = lit.Ty
		}
		if agg, ok := expr.(*plan.Aggregate); ok && f.Ty == plan.TypeUnknown {
			f.Ty = agg.Ty
		}
		out.fields = append(out.fields, f)
	}
	return out
}
