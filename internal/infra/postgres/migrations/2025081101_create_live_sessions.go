package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_live_sessions.sql
var createLiveSessionsSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createLiveSessionsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS live_answers;
				DROP TABLE IF EXISTS live_participants;
				DROP TABLE IF EXISTS live_sessions;
				DROP TABLE IF EXISTS activity_questions;
				DROP TABLE IF EXISTS activities`)
			return err
		},
	)
}
