package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const createAttemptResultsSQL = `
CREATE TABLE IF NOT EXISTS attempt_results (
	session_id   TEXT PRIMARY KEY,
	quiz_type    TEXT NOT NULL,
	result       JSONB NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS attempt_results_quiz_type_idx ON attempt_results (quiz_type);
`

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createAttemptResultsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`DROP TABLE IF EXISTS attempt_results`)
			return err
		},
	)
}
