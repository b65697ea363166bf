package models

import (
	"encoding/json"
	"fmt"
)

// ConfidentialMode controls whether sensitive columns are hidden from the
// model context and the result set.
type ConfidentialMode bool

const (
	// ModeOpen exposes the full schema and result set.
	ModeOpen ConfidentialMode = false
	// ModeConfidential hides sensitive columns from both the model and results.
	ModeConfidential ConfidentialMode = true
)

// String returns the mode label used in cache keys and log fields.
func (m ConfidentialMode) String() string {
	if m == ModeConfidential {
		return "confidential"
	}
	return "open"
}

// MarshalJSON emits the mode label rather than a bare boolean.
func (m ConfidentialMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either the mode label or a boolean.
func (m *ConfidentialMode) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		switch label {
		case ModeOpen.String():
			*m = ModeOpen
		case ModeConfidential.String():
			*m = ModeConfidential
		default:
			return fmt.Errorf("unknown confidential mode %q", label)
		}
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("confidential mode must be a label or boolean")
	}
	*m = ConfidentialMode(b)
	return nil
}

// SchemaDescription is an ordered snapshot of a datasource schema.
// It is immutable once fetched for a request; the pipeline never mutates it.
type SchemaDescription struct {
	Tables []SchemaTable `json:"tables"`
}

// SchemaTable describes a single table and its columns in declaration order.
type SchemaTable struct {
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

// SchemaColumn describes a column as reported by introspection.
type SchemaColumn struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key"`
	References   *string `json:"references,omitempty"` // "table.column" for FKs
}

// Table returns the table with the given name, or nil if absent.
func (s *SchemaDescription) Table(name string) *SchemaTable {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}
