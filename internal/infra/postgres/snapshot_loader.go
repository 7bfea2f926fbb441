package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"classbland-live/internal/domain"
)

// SnapshotLoader reads activity questions from Postgres and ingests them
// into immutable snapshots. Reads go through pgx directly; snapshots are
// taken once per room and cached upstream.
type SnapshotLoader struct {
	pool *pgxpool.Pool
}

func NewSnapshotLoader(pool *pgxpool.Pool) *SnapshotLoader {
	return &SnapshotLoader{pool: pool}
}

func (l *SnapshotLoader) Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	var activityTimeLimit int
	err := l.pool.QueryRow(ctx,
		`SELECT time_limit FROM activities WHERE id=$1`, activityID).Scan(&activityTimeLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, fmt.Errorf("load activity: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id,
		       COALESCE(type, ''),
		       COALESCE(prompt, ''),
		       COALESCE(image_url, ''),
		       COALESCE(options::text, '[]'),
		       correct_index,
		       COALESCE(correct_indexes::text, ''),
		       COALESCE(time_limit, 0),
		       double_points
		FROM activity_questions
		WHERE activity_id=$1
		ORDER BY "order", id`, activityID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var records []domain.QuestionRecord
	for rows.Next() {
		var rec domain.QuestionRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Prompt, &rec.ImageURL,
			&rec.OptionsJSON, &rec.CorrectIndex, &rec.CorrectIndexes,
			&rec.TimeLimit, &rec.DoublePoints); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	return domain.BuildSnapshots(records, activityTimeLimit), nil
}
