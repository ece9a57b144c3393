package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"quiz-attempt-engine/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AttemptArchive records completed attempt results as JSONB rows.
type AttemptArchive struct {
	pool *pgxpool.Pool
}

func NewAttemptArchive(pool *pgxpool.Pool) *AttemptArchive {
	return &AttemptArchive{pool: pool}
}

func (a *AttemptArchive) ArchiveResult(ctx context.Context, result domain.QuizResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO attempt_results (session_id, quiz_type, result, completed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID, string(result.Kind), data, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("archive result: %w", err)
	}
	return nil
}

// LoadResult fetches an archived result by session id.
func (a *AttemptArchive) LoadResult(ctx context.Context, sessionID string) (domain.QuizResult, error) {
	var raw []byte
	err := a.pool.QueryRow(ctx, `SELECT result FROM attempt_results WHERE session_id=$1`, sessionID).Scan(&raw)
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("load result: %w", err)
	}
	var result domain.QuizResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.QuizResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}
