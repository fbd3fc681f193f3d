package plan

// FieldType is the declared storage type of a column or expression result.
// The names follow the BSON type vocabulary since that is what the target
// enforces in comparisons.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeString
	TypeInt
	TypeLong
	TypeDouble
	TypeDecimal
	TypeBool
	TypeDate     // stored as a datetime at midnight of the day
	TypeDateTime
	TypeTime     // stored as a datetime on the zero date
	TypeDuration // stored as int64 milliseconds
	TypeObjectId
)

// StoreName returns the BSON type name the value is stored as. Distinct
// host level types can collapse onto the same wire type, ie date, time and
// datetime are all "date".
func (self FieldType) StoreName() string {
	switch self {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeLong, TypeDuration:
		return "long"
	case TypeDouble:
		return "double"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeDate, TypeDateTime, TypeTime:
		return "date"
	case TypeObjectId:
		return "objectId"
	default:
		return "unknown"
	}
}

// Catalog supplies read only field type metadata. It may be shared
// across concurrent compilations, the compiler never writes to it.
type Catalog interface {
	FieldType(collection string, field string) (FieldType, bool)
}

// MemCatalog is a map backed Catalog, mostly for tests and the CLI.
type MemCatalog map[string]map[string]FieldType

func (self MemCatalog) FieldType(collection string, field string) (FieldType, bool) {
	fields, ok := self[collection]
	if !ok {
		return TypeUnknown, false
	}
	ty, ok := fields[field]
	return ty, ok
}
