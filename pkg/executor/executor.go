// Package executor runs approved queries against Postgres and applies the
// result-layer suppression mask for queries that could not be rewritten.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/database"
	"github.com/sqlgate/sqlgate/pkg/logging"
	"github.com/sqlgate/sqlgate/pkg/models"
)

// Result holds the rows returned by an executed query after masking.
type Result struct {
	Columns           []string         `json:"columns"`
	Rows              []map[string]any `json:"rows"`
	RowCount          int              `json:"row_count"`
	SuppressedColumns []string         `json:"suppressed_columns,omitempty"`
}

// Executor runs rewritten queries.
type Executor interface {
	Execute(ctx context.Context, query models.RewrittenQuery, limit int) (*Result, error)
}

type executor struct {
	db     *database.DB
	logger *zap.Logger
}

// NewExecutor creates an Executor backed by the given pool.
func NewExecutor(db *database.DB, logger *zap.Logger) Executor {
	return &executor{db: db, logger: logger.Named("executor")}
}

var _ Executor = (*executor)(nil)

// Execute runs the query inside a read-only transaction. The statement has
// already passed validation; the read-only transaction is the second line of
// defense should anything slip through.
func (e *executor) Execute(ctx context.Context, query models.RewrittenQuery, limit int) (*Result, error) {
	queryToRun := query.SQL
	if limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", query.SQL, limit)
	}

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result := maskResult(columns, resultRows, query.SuppressedColumns)

	e.logger.Debug("Query executed",
		zap.String("sql", logging.SanitizeQuery(query.SQL)),
		zap.Int("rows", result.RowCount),
		zap.Strings("suppressed_columns", result.SuppressedColumns))

	return result, nil
}

// maskResult removes suppressed columns from the result set. Column matching
// is case-insensitive to cope with Postgres identifier folding.
func maskResult(columns []string, rows []map[string]any, suppressed []string) *Result {
	if len(suppressed) == 0 {
		return &Result{
			Columns:  columns,
			Rows:     rows,
			RowCount: len(rows),
		}
	}

	drop := make(map[string]bool, len(suppressed))
	for _, name := range suppressed {
		drop[strings.ToLower(name)] = true
	}

	var kept []string
	var maskedNames []string
	for _, col := range columns {
		if drop[strings.ToLower(col)] {
			maskedNames = append(maskedNames, col)
			continue
		}
		kept = append(kept, col)
	}

	maskedRows := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		maskedRow := make(map[string]any, len(kept))
		for _, col := range kept {
			maskedRow[col] = row[col]
		}
		maskedRows = append(maskedRows, maskedRow)
	}

	return &Result{
		Columns:           kept,
		Rows:              maskedRows,
		RowCount:          len(maskedRows),
		SuppressedColumns: maskedNames,
	}
}
