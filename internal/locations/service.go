// Package locations manages composite location records: registered
// identifiers (latitude, aisle, shelf, ...), named identifier sets, and the
// locations holding exactly one value per identifier of their set.
package locations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"twinhub/internal/attrstore"
)

// Tables is the storage layout of the location domain.
var Tables = attrstore.Config{
	AttributeTable:  "location_identifier",
	SchemaTable:     "location_schema",
	MembershipTable: "location_schema_identifier",
	EntityTable:     "location",
	ValuePrefix:     "location",
}

// IdentifierValue is one identifier declaration together with the value a
// location holds for it, as supplied by inline inserts.
type IdentifierValue struct {
	Name     string             `json:"name"`
	Unit     string             `json:"unit,omitempty"`
	Datatype attrstore.Datatype `json:"datatype"`
	Value    any                `json:"value"`
}

// Service handles location use cases. Every mutating operation runs in its
// own transaction.
type Service struct {
	db     *sql.DB
	store  *attrstore.Store
	logger *log.Logger
}

// NewService constructs the service.
func NewService(db *sql.DB, logger *log.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("locations service: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{db: db, store: attrstore.New(Tables), logger: logger}, nil
}

// RegisterIdentifier registers a location identifier definition.
func (s *Service) RegisterIdentifier(ctx context.Context, name, unit string, datatype attrstore.Datatype) (int64, error) {
	return s.store.RegisterAttribute(ctx, s.db, name, unit, datatype)
}

// DeleteIdentifier removes an identifier definition unless a schema uses it.
func (s *Service) DeleteIdentifier(ctx context.Context, name string) error {
	return s.store.DeleteAttribute(ctx, s.db, name)
}

// ListIdentifiers returns all identifier definitions.
func (s *Service) ListIdentifiers(ctx context.Context) ([]attrstore.Attribute, error) {
	return s.store.ListAttributes(ctx, s.db)
}

// CreateSchema registers a named identifier set over existing identifiers.
func (s *Service) CreateSchema(ctx context.Context, name, description string, identifierNames []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := s.store.CreateSchema(ctx, tx, name, description, identifierNames)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// SchemaDetails returns a schema with its resolved identifiers.
func (s *Service) SchemaDetails(ctx context.Context, name string) (attrstore.Schema, error) {
	return s.store.SchemaDetails(ctx, s.db, name)
}

// DeleteSchema removes a schema unless locations still use it.
func (s *Service) DeleteSchema(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.store.DeleteSchema(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSchemas returns all schemas with their identifiers.
func (s *Service) ListSchemas(ctx context.Context) ([]attrstore.Schema, error) {
	return s.store.ListSchemas(ctx, s.db)
}

// InsertLocationForSchema stores a location for an existing schema. Raw
// values are parsed against the schema's declared datatypes.
func (s *Service) InsertLocationForSchema(ctx context.Context, schemaName string, raw map[string]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	schema, err := s.store.SchemaDetails(ctx, tx, schemaName)
	if err != nil {
		return 0, err
	}
	values, err := parseValues(schema, raw)
	if err != nil {
		return 0, err
	}
	id, err := s.store.InsertEntity(ctx, tx, schemaName, values)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// InsertLocation stores a location without a pre-created schema. Identifier
// registration is idempotent, and the schema name is derived from the sorted
// identifier names so repeated inserts with the same identifier set converge
// on one schema. Returns the location id and the schema name used.
func (s *Service) InsertLocation(ctx context.Context, identifiers []IdentifierValue) (int64, string, error) {
	if len(identifiers) == 0 {
		return 0, "", errors.New("locations: at least one identifier is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	names := make([]string, 0, len(identifiers))
	values := make(map[string]attrstore.Value, len(identifiers))
	for _, ident := range identifiers {
		if _, err := s.store.EnsureAttribute(ctx, tx, ident.Name, ident.Unit, ident.Datatype); err != nil {
			return 0, "", err
		}
		value, err := attrstore.ParseValue(ident.Datatype, ident.Value)
		if err != nil {
			return 0, "", fmt.Errorf("identifier %q: %w", ident.Name, err)
		}
		names = append(names, ident.Name)
		values[ident.Name] = value
	}

	schemaName := attrstore.CanonicalSchemaName(names)
	if _, err := s.store.SchemaDetails(ctx, tx, schemaName); err != nil {
		if !errors.Is(err, attrstore.ErrNotFound) {
			return 0, "", err
		}
		if _, err := s.store.CreateSchema(ctx, tx, schemaName, "", names); err != nil {
			return 0, "", err
		}
	}

	id, err := s.store.InsertEntity(ctx, tx, schemaName, values)
	if err != nil {
		return 0, "", err
	}
	return id, schemaName, tx.Commit()
}

// ListLocations returns the locations of a schema, optionally narrowed by
// exact-match filters on identifier values.
func (s *Service) ListLocations(ctx context.Context, schemaName string, rawFilters map[string]any) ([]attrstore.Record, error) {
	schema, err := s.store.SchemaDetails(ctx, s.db, schemaName)
	if err != nil {
		return nil, err
	}
	filters, err := parseValues(schema, rawFilters)
	if err != nil {
		return nil, err
	}
	return s.store.SelectEntities(ctx, s.db, schemaName, filters)
}

// Location returns one location by id together with its schema name.
func (s *Service) Location(ctx context.Context, id int64) (attrstore.Record, string, error) {
	var schemaName string
	query := fmt.Sprintf(`
SELECT sc.name
FROM %s e
JOIN %s sc ON sc.id = e.schema_id
WHERE e.id = $1`, Tables.EntityTable, Tables.SchemaTable)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&schemaName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attrstore.Record{}, "", fmt.Errorf("location %d: %w", id, attrstore.ErrNotFound)
		}
		return attrstore.Record{}, "", err
	}
	record, err := s.store.SelectEntityByID(ctx, s.db, schemaName, id)
	if err != nil {
		return attrstore.Record{}, "", err
	}
	return record, schemaName, nil
}

// ResolveLocation returns the id of the single location of a schema matching
// the full value set.
func (s *Service) ResolveLocation(ctx context.Context, schemaName string, raw map[string]any) (int64, error) {
	schema, err := s.store.SchemaDetails(ctx, s.db, schemaName)
	if err != nil {
		return 0, err
	}
	values, err := parseValues(schema, raw)
	if err != nil {
		return 0, err
	}
	records, err := s.store.SelectEntities(ctx, s.db, schemaName, values)
	if err != nil {
		return 0, err
	}
	switch len(records) {
	case 0:
		return 0, fmt.Errorf("location of schema %q with these values: %w", schemaName, attrstore.ErrNotFound)
	case 1:
		return records[0].EntityID, nil
	default:
		return 0, fmt.Errorf("location of schema %q: %w", schemaName, attrstore.ErrAmbiguous)
	}
}

// DeleteLocation deletes the single location identified by its full value
// set, cascading to its stored values.
func (s *Service) DeleteLocation(ctx context.Context, schemaName string, raw map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema, err := s.store.SchemaDetails(ctx, tx, schemaName)
	if err != nil {
		return err
	}
	values, err := parseValues(schema, raw)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntityByValues(ctx, tx, schemaName, values); err != nil {
		return err
	}
	return tx.Commit()
}

// parseValues converts raw JSON values into typed values using the schema's
// declared datatypes. Keys outside the schema are rejected.
func parseValues(schema attrstore.Schema, raw map[string]any) (map[string]attrstore.Value, error) {
	if raw == nil {
		return nil, nil
	}
	byName := make(map[string]attrstore.Attribute, len(schema.Attributes))
	for _, attr := range schema.Attributes {
		byName[attr.Name] = attr
	}

	values := make(map[string]attrstore.Value, len(raw))
	for name, rawValue := range raw {
		attr, ok := byName[name]
		if !ok {
			return nil, &attrstore.UnknownAttributeError{Schema: schema.Name, Attribute: name}
		}
		value, err := attrstore.ParseValue(attr.Datatype, rawValue)
		if err != nil {
			return nil, fmt.Errorf("identifier %q: %w", name, err)
		}
		values[name] = value
	}
	return values, nil
}
