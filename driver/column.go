package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the SQL type of a column and carries the value marshaling
// rules for it. Marshaling is decided here, at schema-definition time, rather
// than by comparing type strings on every call.
type Kind int

const (
	KindSerial Kind = iota
	KindBigSerial
	KindUUID
	KindVarChar
	KindText
	KindBytea
	KindJSONB
	KindTimestampTZ
	KindBoolean
	KindInteger
)

// SQLType returns the PostgreSQL type name for the kind.
func (k Kind) SQLType() string {
	switch k {
	case KindSerial:
		return "SERIAL"
	case KindBigSerial:
		return "BIGSERIAL"
	case KindUUID:
		return "UUID"
	case KindVarChar:
		return "VARCHAR"
	case KindText:
		return "TEXT"
	case KindBytea:
		return "BYTEA"
	case KindJSONB:
		return "JSONB"
	case KindTimestampTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case KindBoolean:
		return "BOOLEAN"
	case KindInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Marshal adapts a Go-native value to a representation every backend accepts
// for this kind. Structured maps become JSON text for JSONB columns and
// uuid.UUID values become their canonical string form. All other values pass
// through untouched.
func (k Kind) Marshal(value any) (any, error) {
	switch k {
	case KindJSONB:
		switch v := value.(type) {
		case nil, string, []byte:
			return value, nil
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal value of type %T to JSON: %w", v, err)
			}
			return string(data), nil
		}
	case KindUUID:
		if v, ok := value.(uuid.UUID); ok {
			return v.String(), nil
		}
		return value, nil
	default:
		return value, nil
	}
}

// Column is an immutable schema fact. Instances are constructed once at
// configuration time and never mutated afterwards.
type Column struct {
	Name       string
	Kind       Kind
	Nullable   bool
	Default    string
	PrimaryKey bool
}

// Definition renders the column clause for CREATE TABLE.
func (c Column) Definition() string {
	parts := []string{c.Name, c.Kind.SQLType()}

	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}

	return strings.Join(parts, " ")
}

// SerialPrimaryKey returns an auto-incrementing integer primary key column.
func SerialPrimaryKey(name string) Column {
	return Column{Name: name, Kind: KindSerial, PrimaryKey: true}
}

// UUIDPrimaryKey returns a UUID primary key column.
func UUIDPrimaryKey(name string) Column {
	return Column{Name: name, Kind: KindUUID, PrimaryKey: true}
}

// CreatedAtColumn returns the server-assigned creation timestamp column.
func CreatedAtColumn() Column {
	return Column{Name: "created_at", Kind: KindTimestampTZ, Default: "NOW()"}
}

// UpdatedAtColumn returns the server-assigned update timestamp column.
func UpdatedAtColumn() Column {
	return Column{Name: "updated_at", Kind: KindTimestampTZ, Default: "NOW()"}
}

// marshalValues applies per-column marshaling to a value list. Extra values
// beyond the column list pass through unchanged.
func marshalValues(columns []Column, values []any) ([]any, error) {
	if len(values) == 0 {
		return nil, nil
	}

	out := make([]any, len(values))
	copy(out, values)

	for i := range values {
		if i >= len(columns) {
			break
		}
		v, err := columns[i].Kind.Marshal(values[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	return out, nil
}
