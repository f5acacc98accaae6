package sqlstore

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	models := []interface{}{
		(*attemptRow)(nil),
		(*answerRow)(nil),
		(*questionRow)(nil),
		(*syncStateRow)(nil),
		(*passwordRow)(nil),
	}

	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			for _, model := range models {
				if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
					return err
				}
			}
			_, err := db.NewCreateIndex().
				Model((*attemptRow)(nil)).
				Index("quiz_offline_attempts_quiz_user_idx").
				Column("quiz_id", "user_id").
				IfNotExists().
				Exec(ctx)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			for i := len(models) - 1; i >= 0; i-- {
				if _, err := db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	)
}
