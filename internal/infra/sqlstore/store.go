package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-attempt-engine/internal/domain"
	"github.com/uptrace/bun"
)

// Store keeps offline attempts, sync state and quiz passwords in a SQL
// database. It implements the engine's Store and the access rule PasswordStore.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetAttempt(ctx context.Context, attemptID int64) (domain.OfflineAttempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OfflineAttempt{}, domain.ErrOfflineAttemptNotFound
	}
	if err != nil {
		return domain.OfflineAttempt{}, fmt.Errorf("select attempt %d: %w", attemptID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAttempts(ctx context.Context) ([]domain.OfflineAttempt, error) {
	var rows []attemptRow
	if err := s.db.NewSelect().Model(&rows).Order("attempt_number ASC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	return attemptsToDomain(rows), nil
}

func (s *Store) ListQuizAttempts(ctx context.Context, quizID, userID int64) ([]domain.OfflineAttempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("quiz_id = ?", quizID).
		Where("user_id = ?", userID).
		Order("attempt_number ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select attempts of quiz %d: %w", quizID, err)
	}
	return attemptsToDomain(rows), nil
}

func attemptsToDomain(rows []attemptRow) []domain.OfflineAttempt {
	out := make([]domain.OfflineAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func (s *Store) SaveAttempt(ctx context.Context, attempt domain.OfflineAttempt) error {
	row := attemptFromDomain(attempt)
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("quiz_id = EXCLUDED.quiz_id").
		Set("user_id = EXCLUDED.user_id").
		Set("course_id = EXCLUDED.course_id").
		Set("attempt_number = EXCLUDED.attempt_number").
		Set("current_page = EXCLUDED.current_page").
		Set("finished = EXCLUDED.finished").
		Set("time_modified = EXCLUDED.time_modified").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert attempt %d: %w", attempt.ID, err)
	}
	return nil
}

func (s *Store) SetCurrentPage(ctx context.Context, attemptID int64, page int) error {
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("current_page = ?", page).
		Where("id = ?", attemptID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update current page of attempt %d: %w", attemptID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrOfflineAttemptNotFound
	}
	return nil
}

func (s *Store) AttemptAnswers(ctx context.Context, attemptID int64) ([]domain.OfflineAnswer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("attempt_id = ?", attemptID).
		Order("slot ASC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select answers of attempt %d: %w", attemptID, err)
	}
	out := make([]domain.OfflineAnswer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ReplaceAnswers(ctx context.Context, attemptID int64, slots []int, answers []domain.OfflineAnswer) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(slots) > 0 {
			_, err := tx.NewDelete().Model((*answerRow)(nil)).
				Where("attempt_id = ?", attemptID).
				Where("slot IN (?)", bun.In(slots)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("delete answers of attempt %d: %w", attemptID, err)
			}
		}
		if len(answers) == 0 {
			return nil
		}
		rows := make([]answerRow, 0, len(answers))
		for _, a := range answers {
			a.AttemptID = attemptID
			rows = append(rows, answerFromDomain(a))
		}
		_, err := tx.NewInsert().Model(&rows).
			On("CONFLICT (attempt_id, slot, name) DO UPDATE").
			Set("value = EXCLUDED.value").
			Set("time_modified = EXCLUDED.time_modified").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert answers of attempt %d: %w", attemptID, err)
		}
		return nil
	})
}

func (s *Store) AttemptQuestions(ctx context.Context, attemptID int64) ([]domain.OfflineQuestion, error) {
	var rows []questionRow
	err := s.db.NewSelect().Model(&rows).
		Where("attempt_id = ?", attemptID).
		Order("slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select questions of attempt %d: %w", attemptID, err)
	}
	out := make([]domain.OfflineQuestion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveQuestion(ctx context.Context, q domain.OfflineQuestion) error {
	row := questionRow{
		AttemptID: q.AttemptID,
		Slot:      q.Slot,
		QuizID:    q.QuizID,
		UserID:    q.UserID,
		Number:    q.Number,
		State:     q.State,
		Status:    q.Status,
	}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (attempt_id, slot) DO UPDATE").
		Set("number = EXCLUDED.number").
		Set("state = EXCLUDED.state").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert question %d of attempt %d: %w", q.Slot, q.AttemptID, err)
	}
	return nil
}

func (s *Store) RemoveQuestionAndAnswers(ctx context.Context, attemptID int64, slot int) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*answerRow)(nil)).Where("attempt_id = ? AND slot = ?", attemptID, slot).Exec(ctx); err != nil {
			return fmt.Errorf("delete answers of slot %d: %w", slot, err)
		}
		if _, err := tx.NewDelete().Model((*questionRow)(nil)).Where("attempt_id = ? AND slot = ?", attemptID, slot).Exec(ctx); err != nil {
			return fmt.Errorf("delete question of slot %d: %w", slot, err)
		}
		return nil
	})
}

func (s *Store) RemoveAttemptAndAnswers(ctx context.Context, attemptID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []interface{}{(*answerRow)(nil), (*questionRow)(nil)} {
			if _, err := tx.NewDelete().Model(model).Where("attempt_id = ?", attemptID).Exec(ctx); err != nil {
				return fmt.Errorf("delete data of attempt %d: %w", attemptID, err)
			}
		}
		if _, err := tx.NewDelete().Model((*attemptRow)(nil)).Where("id = ?", attemptID).Exec(ctx); err != nil {
			return fmt.Errorf("delete attempt %d: %w", attemptID, err)
		}
		return nil
	})
}

func (s *Store) syncState(ctx context.Context, quizID int64) (syncStateRow, bool, error) {
	var row syncStateRow
	err := s.db.NewSelect().Model(&row).Where("quiz_id = ?", quizID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return syncStateRow{}, false, nil
	}
	if err != nil {
		return syncStateRow{}, false, fmt.Errorf("select sync state of quiz %d: %w", quizID, err)
	}
	return row, true, nil
}

func (s *Store) SyncTime(ctx context.Context, quizID int64) (time.Time, error) {
	row, _, err := s.syncState(ctx, quizID)
	if err != nil {
		return time.Time{}, err
	}
	return fromMillis(row.SyncedAt), nil
}

func (s *Store) SetSyncTime(ctx context.Context, quizID int64, at time.Time) error {
	row := syncStateRow{QuizID: quizID, SyncedAt: toMillis(at)}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (quiz_id) DO UPDATE").
		Set("synced_at = EXCLUDED.synced_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert sync time of quiz %d: %w", quizID, err)
	}
	return nil
}

func (s *Store) SyncWarnings(ctx context.Context, quizID int64) ([]string, error) {
	row, ok, err := s.syncState(ctx, quizID)
	if err != nil || !ok || row.Warnings == "" {
		return nil, err
	}
	var warnings []string
	if err := json.Unmarshal([]byte(row.Warnings), &warnings); err != nil {
		return nil, fmt.Errorf("decode sync warnings of quiz %d: %w", quizID, err)
	}
	return warnings, nil
}

func (s *Store) SetSyncWarnings(ctx context.Context, quizID int64, warnings []string) error {
	encoded := ""
	if len(warnings) > 0 {
		raw, err := json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("encode sync warnings: %w", err)
		}
		encoded = string(raw)
	}
	row := syncStateRow{QuizID: quizID, Warnings: encoded}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (quiz_id) DO UPDATE").
		Set("warnings = EXCLUDED.warnings").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert sync warnings of quiz %d: %w", quizID, err)
	}
	return nil
}

func (s *Store) QuizPassword(ctx context.Context, quizID int64) (string, bool, error) {
	var row passwordRow
	err := s.db.NewSelect().Model(&row).Where("quiz_id = ?", quizID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select password of quiz %d: %w", quizID, err)
	}
	return row.Password, true, nil
}

func (s *Store) SaveQuizPassword(ctx context.Context, quizID int64, password string) error {
	row := passwordRow{QuizID: quizID, Password: password}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (quiz_id) DO UPDATE").
		Set("password = EXCLUDED.password").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert password of quiz %d: %w", quizID, err)
	}
	return nil
}

func (s *Store) DeleteQuizPassword(ctx context.Context, quizID int64) error {
	if _, err := s.db.NewDelete().Model((*passwordRow)(nil)).Where("quiz_id = ?", quizID).Exec(ctx); err != nil {
		return fmt.Errorf("delete password of quiz %d: %w", quizID, err)
	}
	return nil
}
