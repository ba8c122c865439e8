package attrstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors shared by all engine operations. Callers match them with
// errors.Is.
var (
	ErrNotFound        = errors.New("attrstore: not found")
	ErrAlreadyExists   = errors.New("attrstore: already exists")
	ErrAmbiguous       = errors.New("attrstore: more than one match")
	ErrInvalidDatatype = errors.New("attrstore: unrecognized datatype")
)

// DatatypeMismatchError reports a value whose runtime type disagrees with the
// declared datatype of its attribute or measure.
type DatatypeMismatchError struct {
	Attribute string
	Expected  Datatype
	Actual    string
}

func (e *DatatypeMismatchError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("expected a %s value but got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("attribute %q expects a %s value but got %s", e.Attribute, e.Expected, e.Actual)
}

// AttributeSetError reports a provided attribute set that differs from the
// schema's expected set. Missing and Extra together form the symmetric
// difference, each sorted.
type AttributeSetError struct {
	Schema  string
	Missing []string
	Extra   []string
}

func (e *AttributeSetError) Error() string {
	parts := []string{fmt.Sprintf("schema %q attribute set mismatch", e.Schema)}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Extra, ", "))
	}
	return strings.Join(parts, ": ")
}

// UnknownAttributeError reports a filter key that does not belong to the
// queried schema.
type UnknownAttributeError struct {
	Schema    string
	Attribute string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("attribute %q does not belong to schema %q", e.Attribute, e.Schema)
}

// ReferencedError reports a delete blocked by a dependent row.
type ReferencedError struct {
	Name string // what the caller tried to delete
	By   string // kind of row still referencing it, e.g. "schema" or "entity"
}

func (e *ReferencedError) Error() string {
	return fmt.Sprintf("%q is still referenced by at least one %s", e.Name, e.By)
}

// LengthMismatchError reports value and timestamp sequences of unequal length.
type LengthMismatchError struct {
	Values     int
	Timestamps int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("got %d values but %d timestamps", e.Values, e.Timestamps)
}

// InvalidMeasureError reports a measure that is not declared for the subject
// it was reported against.
type InvalidMeasureError struct {
	Measure string
	Subject string
}

func (e *InvalidMeasureError) Error() string {
	return fmt.Sprintf("measure %q is not valid for %q", e.Measure, e.Subject)
}

// TranslateUnique maps a Postgres unique-violation onto ErrAlreadyExists so
// races lost at the storage layer surface the same way as pre-checked
// duplicates. Other errors pass through unchanged. Exported for the domain
// services that keep plain rows next to the engine's tables.
func TranslateUnique(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf(format+": %w", append(args, ErrAlreadyExists)...)
	}
	return err
}

// notFoundOnNoRows maps sql.ErrNoRows onto ErrNotFound with context.
func notFoundOnNoRows(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
