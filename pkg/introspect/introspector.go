// Package introspect reads the live database schema so the pipeline can
// fingerprint it, classify confidential columns, and render prompt context.
package introspect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/database"
	"github.com/sqlgate/sqlgate/pkg/models"
)

// Introspector discovers tables, columns, and foreign keys.
type Introspector interface {
	Describe(ctx context.Context) (*models.SchemaDescription, error)
}

type introspector struct {
	db     *database.DB
	logger *zap.Logger
}

// NewIntrospector creates an Introspector backed by the given pool.
func NewIntrospector(db *database.DB, logger *zap.Logger) Introspector {
	return &introspector{db: db, logger: logger.Named("introspect")}
}

var _ Introspector = (*introspector)(nil)

// Describe returns the full schema description for user tables.
// System schemas and the migration bookkeeping table are excluded.
func (i *introspector) Describe(ctx context.Context) (*models.SchemaDescription, error) {
	tables, err := i.discoverTables(ctx)
	if err != nil {
		return nil, err
	}

	fks, err := i.discoverForeignKeys(ctx)
	if err != nil {
		return nil, err
	}

	desc := &models.SchemaDescription{}
	for _, table := range tables {
		columns, err := i.discoverColumns(ctx, table)
		if err != nil {
			return nil, err
		}

		for idx := range columns {
			if target, ok := fks[columnRef{table, columns[idx].Name}]; ok {
				columns[idx].IsForeignKey = true
				ref := target
				columns[idx].References = &ref
			}
		}

		desc.Tables = append(desc.Tables, models.SchemaTable{
			Name:    table,
			Columns: columns,
		})
	}

	i.logger.Debug("Schema described", zap.Int("tables", len(desc.Tables)))

	return desc, nil
}

func (i *introspector) discoverTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT t.table_name
		FROM information_schema.tables t
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND t.table_name NOT IN ('schema_migrations', 'gate_query_history')
		ORDER BY t.table_name
	`

	rows, err := i.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

func (i *introspector) discoverColumns(ctx context.Context, tableName string) ([]models.SchemaColumn, error) {
	// pg_index.indisprimary correctly detects PKs even when created as
	// unique indexes (common with ORMs).
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			COALESCE(pk.is_pk, false) as is_primary_key
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname as column_name, true as is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = 'public'
			  AND t.relname = $1
			  AND array_length(ix.indkey, 1) = 1
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position
	`

	rows, err := i.db.Query(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.SchemaColumn
	for rows.Next() {
		var c models.SchemaColumn
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

type columnRef struct {
	table  string
	column string
}

// discoverForeignKeys maps source columns to their "table.column" targets.
func (i *introspector) discoverForeignKeys(ctx context.Context) (map[columnRef]string, error) {
	const query = `
		SELECT
			kcu.table_name as source_table,
			kcu.column_name as source_column,
			ccu.table_name as target_table,
			ccu.column_name as target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	`

	rows, err := i.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	fks := make(map[columnRef]string)
	for rows.Next() {
		var sourceTable, sourceColumn, targetTable, targetColumn string
		if err := rows.Scan(&sourceTable, &sourceColumn, &targetTable, &targetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks[columnRef{sourceTable, sourceColumn}] = targetTable + "." + targetColumn
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return fks, nil
}
