package attrstore

import (
	"fmt"
	"math"
)

// Datatype tags the primitive type of an attribute value. The set is closed:
// every value lives in exactly one of the four storage partitions.
type Datatype string

const (
	DatatypeString  Datatype = "string"
	DatatypeInteger Datatype = "integer"
	DatatypeFloat   Datatype = "float"
	DatatypeBoolean Datatype = "boolean"
)

// Datatypes lists all recognized datatypes in a stable order.
var Datatypes = []Datatype{DatatypeString, DatatypeInteger, DatatypeFloat, DatatypeBoolean}

// ParseDatatype converts an external tag into a Datatype.
func ParseDatatype(tag string) (Datatype, error) {
	switch Datatype(tag) {
	case DatatypeString, DatatypeInteger, DatatypeFloat, DatatypeBoolean:
		return Datatype(tag), nil
	}
	return "", fmt.Errorf("datatype %q: %w", tag, ErrInvalidDatatype)
}

// Valid reports whether the datatype is one of the four recognized tags.
func (d Datatype) Valid() bool {
	switch d {
	case DatatypeString, DatatypeInteger, DatatypeFloat, DatatypeBoolean:
		return true
	}
	return false
}

// columnType returns the SQL column type that holds values of this datatype.
func (d Datatype) columnType() string {
	switch d {
	case DatatypeString:
		return "TEXT"
	case DatatypeInteger:
		return "BIGINT"
	case DatatypeFloat:
		return "DOUBLE PRECISION"
	case DatatypeBoolean:
		return "BOOLEAN"
	}
	panic(fmt.Sprintf("attrstore: unknown datatype %q", d))
}

// Value is a dynamically typed attribute value. The zero Value is invalid;
// construct values with String, Integer, Float, Boolean, ValueOf or
// ParseValue.
type Value struct {
	datatype Datatype
	str      string
	integer  int64
	float    float64
	boolean  bool
}

// String wraps a string value.
func String(v string) Value { return Value{datatype: DatatypeString, str: v} }

// Integer wraps an integer value.
func Integer(v int64) Value { return Value{datatype: DatatypeInteger, integer: v} }

// Float wraps a float value.
func Float(v float64) Value { return Value{datatype: DatatypeFloat, float: v} }

// Boolean wraps a boolean value.
func Boolean(v bool) Value { return Value{datatype: DatatypeBoolean, boolean: v} }

// ValueOf wraps a Go value of one of the four supported primitive types.
func ValueOf(v any) (Value, error) {
	switch val := v.(type) {
	case string:
		return String(val), nil
	case int:
		return Integer(int64(val)), nil
	case int64:
		return Integer(val), nil
	case float64:
		return Float(val), nil
	case bool:
		return Boolean(val), nil
	}
	return Value{}, fmt.Errorf("value of type %T: %w", v, ErrInvalidDatatype)
}

// ParseValue coerces a decoded JSON value into the declared datatype. This is
// the single deserialization boundary: JSON numbers arrive as float64 and are
// narrowed to integers only when the declared datatype asks for it and the
// number has no fractional part.
func ParseValue(datatype Datatype, raw any) (Value, error) {
	switch datatype {
	case DatatypeString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
	case DatatypeInteger:
		switch n := raw.(type) {
		case float64:
			if math.Trunc(n) == n {
				return Integer(int64(n)), nil
			}
		case int:
			return Integer(int64(n)), nil
		case int64:
			return Integer(n), nil
		}
	case DatatypeFloat:
		switch n := raw.(type) {
		case float64:
			return Float(n), nil
		case int:
			return Float(float64(n)), nil
		case int64:
			return Float(float64(n)), nil
		}
	case DatatypeBoolean:
		if b, ok := raw.(bool); ok {
			return Boolean(b), nil
		}
	default:
		return Value{}, fmt.Errorf("datatype %q: %w", datatype, ErrInvalidDatatype)
	}
	return Value{}, &DatatypeMismatchError{Expected: datatype, Actual: goTypeName(raw)}
}

// Datatype returns the partition this value belongs to.
func (v Value) Datatype() Datatype { return v.datatype }

// Any unwraps the value for use as a driver argument or JSON payload.
func (v Value) Any() any {
	switch v.datatype {
	case DatatypeString:
		return v.str
	case DatatypeInteger:
		return v.integer
	case DatatypeFloat:
		return v.float
	case DatatypeBoolean:
		return v.boolean
	}
	return nil
}

// Equal reports whether two values have the same datatype and content.
func (v Value) Equal(o Value) bool { return v == o }

// Str, Int, Float64 and Bool unwrap the typed content. They return the zero
// value when called on a value of a different datatype.
func (v Value) Str() string      { return v.str }
func (v Value) Int() int64       { return v.integer }
func (v Value) Float64() float64 { return v.float }
func (v Value) Bool() bool       { return v.boolean }

func goTypeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
