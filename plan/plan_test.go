package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	assert := assert.New(t)

	p := &Plan{Collection: "t"}
	assert.Equal(int64(-1), p.Limit())
	assert.False(p.EmptyWindow())

	p.Offset = 10
	p.Bound = Bound(30)
	assert.Equal(int64(20), p.Limit())
	assert.False(p.EmptyWindow())

	p.Bound = Bound(10)
	assert.Equal(int64(0), p.Limit())
	assert.True(p.EmptyWindow())
}

func TestJoinByAlias(t *testing.T) {
	assert := assert.New(t)

	p := &Plan{
		Collection: "orders",
		Joins: []Join{
			{Alias: "c", Collection: "customers"},
			{Alias: "s", Collection: "shipments"},
		},
	}
	assert.Equal("customers", p.JoinByAlias("c").Collection)
	assert.Equal("shipments", p.JoinByAlias("s").Collection)
	assert.Nil(p.JoinByAlias("x"))
}

func TestFieldTypeStoreName(t *testing.T) {
	assert := assert.New(t)

	// distinct host types collapse onto their wire representation
	assert.Equal("date", TypeDate.StoreName())
	assert.Equal("date", TypeDateTime.StoreName())
	assert.Equal("date", TypeTime.StoreName())
	assert.Equal("long", TypeDuration.StoreName())
	assert.Equal("long", TypeLong.StoreName())
	assert.Equal("objectId", TypeObjectId.StoreName())
	assert.Equal("unknown", TypeUnknown.StoreName())
}

func TestMemCatalog(t *testing.T) {
	assert := assert.New(t)

	c := MemCatalog{
		"orders": {"total": TypeDecimal},
	}
	ty, ok := c.FieldType("orders", "total")
	assert.True(ok)
	assert.Equal(TypeDecimal, ty)

	_, ok = c.FieldType("orders", "missing")
	assert.False(ok)
	_, ok = c.FieldType("missing", "total")
	assert.False(ok)
}

func TestPrint(t *testing.T) {
	assert := assert.New(t)

	p := &Plan{
		Collection: "orders",
		Columns: []SelectColumn{
			{Alias: "status", Expr: &ColumnRef{Name: "status"}},
			{Alias: "n", Expr: &Aggregate{Fn: AggCount}},
		},
		GroupBy: []Expr{&ColumnRef{Name: "status"}},
		Where: NewAnd(&Comparison{
			LHS: &ColumnRef{Name: "total"},
			Op:  CmpGt,
			RHS: &Literal{Value: 10, Ty: TypeInt},
		}),
	}
	out := p.Print()
	assert.Contains(out, "##> Plan")
	assert.Contains(out, "Collection: orders")
	assert.Contains(out, "status")
	assert.Contains(out, "count")
	assert.Contains(out, "gt")
}

func TestDump(t *testing.T) {
	assert := assert.New(t)

	e := &Combined{
		Op:  OpAdd,
		LHS: &ColumnRef{Name: "a"},
		RHS: &Literal{Value: 1, Ty: TypeInt},
	}
	assert.Contains(e.Dump(), "add")

	c := NewNot(&Comparison{
		LHS: &ColumnRef{Name: "a"},
		Op:  CmpIsNull,
		RHS: &Literal{Value: true, Ty: TypeBool},
	})
	assert.Contains(c.Dump(), "isnull")
}
