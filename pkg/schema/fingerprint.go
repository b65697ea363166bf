// Package schema derives stable identifiers from schema descriptions.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/sqlgate/sqlgate/pkg/models"
)

// Fingerprint is an opaque stable hash over a schema and confidentiality mode.
// Identical schema + mode always yields an identical fingerprint; any schema
// change implicitly invalidates cache entries keyed under the old value.
type Fingerprint string

// Compute derives a Fingerprint from a schema description and mode.
// Table and column names are sorted before hashing so repeated introspection
// calls that return columns in a different order still agree.
// Pure and total: a malformed schema (duplicate table names) is hashed as-is.
func Compute(desc *models.SchemaDescription, mode models.ConfidentialMode) Fingerprint {
	h := sha256.New()

	tables := make([]string, 0, len(desc.Tables))
	byName := make(map[string][]models.SchemaColumn, len(desc.Tables))
	for _, t := range desc.Tables {
		tables = append(tables, t.Name)
		// Last table wins on duplicate names; duplicate detection is the
		// introspector's responsibility, not ours.
		byName[t.Name] = t.Columns
	}
	sort.Strings(tables)

	for _, name := range tables {
		h.Write([]byte("table:"))
		h.Write([]byte(name))
		h.Write([]byte{'\n'})

		cols := make([]string, 0, len(byName[name]))
		for _, c := range byName[name] {
			cols = append(cols, c.Name+" "+strings.ToLower(c.DataType))
		}
		sort.Strings(cols)
		for _, c := range cols {
			h.Write([]byte("col:"))
			h.Write([]byte(c))
			h.Write([]byte{'\n'})
		}
	}

	h.Write([]byte("mode:"))
	h.Write([]byte(mode.String()))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
