package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlgate/sqlgate/pkg/models"
)

func employeeSchema() *models.SchemaDescription {
	return &models.SchemaDescription{
		Tables: []models.SchemaTable{
			{
				Name: "employees",
				Columns: []models.SchemaColumn{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "name", DataType: "text"},
					{Name: "salary", DataType: "numeric"},
				},
			},
		},
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(employeeSchema(), models.ModeOpen)
	b := Compute(employeeSchema(), models.ModeOpen)
	assert.Equal(t, a, b)
	assert.Len(t, string(a), 64)
}

func TestCompute_ColumnOrderInsensitive(t *testing.T) {
	reordered := &models.SchemaDescription{
		Tables: []models.SchemaTable{
			{
				Name: "employees",
				Columns: []models.SchemaColumn{
					{Name: "salary", DataType: "numeric"},
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "name", DataType: "text"},
				},
			},
		},
	}
	assert.Equal(t, Compute(employeeSchema(), models.ModeOpen), Compute(reordered, models.ModeOpen))
}

func TestCompute_TableOrderInsensitive(t *testing.T) {
	ab := &models.SchemaDescription{Tables: []models.SchemaTable{
		{Name: "a", Columns: []models.SchemaColumn{{Name: "x", DataType: "int"}}},
		{Name: "b", Columns: []models.SchemaColumn{{Name: "y", DataType: "int"}}},
	}}
	ba := &models.SchemaDescription{Tables: []models.SchemaTable{
		{Name: "b", Columns: []models.SchemaColumn{{Name: "y", DataType: "int"}}},
		{Name: "a", Columns: []models.SchemaColumn{{Name: "x", DataType: "int"}}},
	}}
	assert.Equal(t, Compute(ab, models.ModeOpen), Compute(ba, models.ModeOpen))
}

func TestCompute_ModeChangesFingerprint(t *testing.T) {
	open := Compute(employeeSchema(), models.ModeOpen)
	confidential := Compute(employeeSchema(), models.ModeConfidential)
	assert.NotEqual(t, open, confidential)
}

func TestCompute_SchemaChangeChangesFingerprint(t *testing.T) {
	base := Compute(employeeSchema(), models.ModeOpen)

	changed := employeeSchema()
	changed.Tables[0].Columns[2].DataType = "money"
	assert.NotEqual(t, base, Compute(changed, models.ModeOpen))

	extra := employeeSchema()
	extra.Tables[0].Columns = append(extra.Tables[0].Columns, models.SchemaColumn{Name: "email", DataType: "text"})
	assert.NotEqual(t, base, Compute(extra, models.ModeOpen))
}

func TestCompute_TypeCaseInsensitive(t *testing.T) {
	upper := employeeSchema()
	upper.Tables[0].Columns[0].DataType = "INTEGER"
	assert.Equal(t, Compute(employeeSchema(), models.ModeOpen), Compute(upper, models.ModeOpen))
}
