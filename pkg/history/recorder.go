package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sqlgate/sqlgate/pkg/database"
	"github.com/sqlgate/sqlgate/pkg/models"
)

// Recorder provides append-only access to the pipeline decision trail.
// Records are immutable once written; there is no update or delete path.
type Recorder interface {
	Record(ctx context.Context, rec *models.HistoryRecord) error
	List(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error)
}

type recorder struct {
	db *database.DB
}

// NewRecorder creates a Recorder backed by the given connection pool.
func NewRecorder(db *database.DB) Recorder {
	return &recorder{db: db}
}

var _ Recorder = (*recorder)(nil)

func (r *recorder) Record(ctx context.Context, rec *models.HistoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO gate_query_history (
			id, question, sql, mode, accepted, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.Question,
		rec.SQL,
		rec.Mode.String(),
		rec.Accepted,
		rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}

	return nil
}

func (r *recorder) List(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filters.AcceptedOnly {
		conditions = append(conditions, "accepted")
	}

	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filters.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM gate_query_history WHERE %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history entries: %w", err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT id, question, sql, mode, accepted, reason, created_at
		FROM gate_query_history
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, where, argIdx)

	args = append(args, limit)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		var mode string

		err := rows.Scan(
			&rec.ID,
			&rec.Question,
			&rec.SQL,
			&mode,
			&rec.Accepted,
			&rec.Reason,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}

		if mode == models.ModeConfidential.String() {
			rec.Mode = models.ModeConfidential
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating history entries: %w", err)
	}

	return records, total, nil
}
