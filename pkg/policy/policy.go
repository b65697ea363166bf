// Package policy classifies schema columns as confidential.
//
// The pattern table is data, not code: it can be loaded from a YAML file so
// the classification behavior is auditable and versioned independently of
// any specific schema. A compiled-in default table covers common PII shapes.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sqlgate/sqlgate/pkg/models"
)

// PatternTable is a versioned set of rules mapping column names and declared
// types to sensitivity. Matching is case-insensitive substring matching.
type PatternTable struct {
	Version int `yaml:"version"`

	// NamePatterns are substrings matched against column names.
	NamePatterns []string `yaml:"name_patterns"`

	// TypePatterns are substrings matched against declared column types.
	TypePatterns []string `yaml:"type_patterns"`
}

// DefaultPatternTable returns the built-in pattern table covering the usual
// personally sensitive column shapes: contact details, addresses,
// compensation, and identification numbers.
func DefaultPatternTable() PatternTable {
	return PatternTable{
		Version: 1,
		NamePatterns: []string{
			"email", "e_mail",
			"phone", "mobile", "fax",
			"address", "street", "postal_code", "zip",
			"salary", "wage", "compensation",
			"ssn", "social_security", "national_id", "passport",
			"tax_id", "iban", "credit_card", "card_number",
			"date_of_birth", "birth_date", "dob",
			"password", "secret", "token",
		},
		TypePatterns: nil,
	}
}

// LoadPatternTable reads a pattern table from a YAML file.
func LoadPatternTable(path string) (PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatternTable{}, fmt.Errorf("failed to read pattern table: %w", err)
	}

	var table PatternTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return PatternTable{}, fmt.Errorf("failed to parse pattern table: %w", err)
	}
	if table.Version == 0 {
		return PatternTable{}, fmt.Errorf("pattern table is missing a version")
	}
	return table, nil
}

// columnKey identifies a (table, column) pair in the confidential set.
type columnKey struct {
	table  string
	column string
}

// ConfidentialColumnSet is the set of (table, column) pairs classified
// sensitive for one schema snapshot. Recomputed per schema fetch.
type ConfidentialColumnSet struct {
	version int
	columns map[columnKey]struct{}
	byTable map[string][]string
}

// Classify derives the confidential column set from a schema description.
// Total and deterministic: every column gets a yes/no classification.
func Classify(desc *models.SchemaDescription, table PatternTable) *ConfidentialColumnSet {
	set := &ConfidentialColumnSet{
		version: table.Version,
		columns: make(map[columnKey]struct{}),
		byTable: make(map[string][]string),
	}

	for _, t := range desc.Tables {
		for _, c := range t.Columns {
			if !matches(c, table) {
				continue
			}
			key := columnKey{table: strings.ToLower(t.Name), column: strings.ToLower(c.Name)}
			if _, dup := set.columns[key]; dup {
				continue
			}
			set.columns[key] = struct{}{}
			set.byTable[key.table] = append(set.byTable[key.table], key.column)
		}
	}

	return set
}

func matches(c models.SchemaColumn, table PatternTable) bool {
	name := strings.ToLower(c.Name)
	for _, p := range table.NamePatterns {
		if strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	dataType := strings.ToLower(c.DataType)
	for _, p := range table.TypePatterns {
		if strings.Contains(dataType, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Version returns the pattern table version this set was derived from.
func (s *ConfidentialColumnSet) Version() int {
	return s.version
}

// IsSensitive reports whether the (table, column) pair is classified
// sensitive. O(1), case-insensitive.
func (s *ConfidentialColumnSet) IsSensitive(table, column string) bool {
	_, ok := s.columns[columnKey{table: strings.ToLower(table), column: strings.ToLower(column)}]
	return ok
}

// IsSensitiveColumn reports whether a column name is sensitive in any table.
// Used when a statement references columns without table qualifiers.
func (s *ConfidentialColumnSet) IsSensitiveColumn(column string) bool {
	column = strings.ToLower(column)
	for key := range s.columns {
		if key.column == column {
			return true
		}
	}
	return false
}

// TableColumns returns the sensitive column names for a table.
func (s *ConfidentialColumnSet) TableColumns(table string) []string {
	return s.byTable[strings.ToLower(table)]
}

// Len returns the number of sensitive (table, column) pairs.
func (s *ConfidentialColumnSet) Len() int {
	return len(s.columns)
}
