package attrstore

import (
	"errors"
	"testing"
)

func TestParseDatatype(t *testing.T) {
	for _, tag := range []string{"string", "integer", "float", "boolean"} {
		datatype, err := ParseDatatype(tag)
		if err != nil {
			t.Fatalf("parse %q: %v", tag, err)
		}
		if string(datatype) != tag {
			t.Fatalf("parse %q: got %q", tag, datatype)
		}
	}

	if _, err := ParseDatatype("decimal"); !errors.Is(err, ErrInvalidDatatype) {
		t.Fatalf("expected ErrInvalidDatatype, got %v", err)
	}
	if _, err := ParseDatatype(""); !errors.Is(err, ErrInvalidDatatype) {
		t.Fatalf("expected ErrInvalidDatatype for empty tag, got %v", err)
	}
}

func TestValueOf(t *testing.T) {
	cases := []struct {
		in   any
		want Datatype
	}{
		{"shelf-a", DatatypeString},
		{int(4), DatatypeInteger},
		{int64(4), DatatypeInteger},
		{23.5, DatatypeFloat},
		{true, DatatypeBoolean},
	}
	for _, tc := range cases {
		value, err := ValueOf(tc.in)
		if err != nil {
			t.Fatalf("ValueOf(%v): %v", tc.in, err)
		}
		if value.Datatype() != tc.want {
			t.Fatalf("ValueOf(%v): got datatype %q, want %q", tc.in, value.Datatype(), tc.want)
		}
	}

	if _, err := ValueOf([]string{"no"}); !errors.Is(err, ErrInvalidDatatype) {
		t.Fatalf("expected ErrInvalidDatatype, got %v", err)
	}
}

func TestParseValueNarrowsJSONNumbers(t *testing.T) {
	// JSON numbers decode as float64; integer attributes accept them only
	// when they have no fractional part.
	value, err := ParseValue(DatatypeInteger, float64(42))
	if err != nil {
		t.Fatalf("parse integer: %v", err)
	}
	if value.Int() != 42 {
		t.Fatalf("got %d, want 42", value.Int())
	}

	if _, err := ParseValue(DatatypeInteger, 4.5); err == nil {
		t.Fatal("expected mismatch for fractional integer")
	}
	var mismatch *DatatypeMismatchError
	if _, err := ParseValue(DatatypeBoolean, "true"); !errors.As(err, &mismatch) {
		t.Fatalf("expected DatatypeMismatchError, got %v", err)
	}

	value, err = ParseValue(DatatypeFloat, float64(42))
	if err != nil {
		t.Fatalf("parse float: %v", err)
	}
	if value.Float64() != 42.0 {
		t.Fatalf("got %v, want 42.0", value.Float64())
	}
}

func TestValueEqual(t *testing.T) {
	if !Float(1.5).Equal(Float(1.5)) {
		t.Fatal("equal floats reported unequal")
	}
	if Integer(1).Equal(Float(1)) {
		t.Fatal("integer and float with same magnitude must differ")
	}
	if String("1").Equal(Integer(1)) {
		t.Fatal("string and integer must differ")
	}
}
