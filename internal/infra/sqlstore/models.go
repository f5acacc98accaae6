package sqlstore

import (
	"time"

	"quiz-attempt-engine/internal/domain"
	"github.com/uptrace/bun"
)

// Times are stored as unix milliseconds so both dialects agree on precision.

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_offline_attempts"`

	ID           int64 `bun:"id,pk"`
	QuizID       int64 `bun:"quiz_id,notnull"`
	UserID       int64 `bun:"user_id,notnull"`
	CourseID     int64 `bun:"course_id,notnull"`
	Number       int   `bun:"attempt_number,notnull"`
	CurrentPage  int   `bun:"current_page,notnull"`
	Finished     bool  `bun:"finished,notnull"`
	TimeCreated  int64 `bun:"time_created,notnull"`
	TimeModified int64 `bun:"time_modified,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_offline_answers"`

	AttemptID    int64  `bun:"attempt_id,pk"`
	Slot         int    `bun:"slot,pk"`
	Name         string `bun:"name,pk"`
	QuizID       int64  `bun:"quiz_id,notnull"`
	UserID       int64  `bun:"user_id,notnull"`
	Value        string `bun:"value,notnull"`
	TimeModified int64  `bun:"time_modified,notnull"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:quiz_offline_questions"`

	AttemptID int64  `bun:"attempt_id,pk"`
	Slot      int    `bun:"slot,pk"`
	QuizID    int64  `bun:"quiz_id,notnull"`
	UserID    int64  `bun:"user_id,notnull"`
	Number    int    `bun:"number,notnull"`
	State     string `bun:"state,notnull"`
	Status    string `bun:"status,notnull"`
}

type syncStateRow struct {
	bun.BaseModel `bun:"table:quiz_sync_state"`

	QuizID   int64  `bun:"quiz_id,pk"`
	SyncedAt int64  `bun:"synced_at,notnull"`
	Warnings string `bun:"warnings,notnull"`
}

type passwordRow struct {
	bun.BaseModel `bun:"table:quiz_access_passwords"`

	QuizID   int64  `bun:"quiz_id,pk"`
	Password string `bun:"password,notnull"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func attemptFromDomain(a domain.OfflineAttempt) attemptRow {
	return attemptRow{
		ID:           a.ID,
		QuizID:       a.QuizID,
		UserID:       a.UserID,
		CourseID:     a.CourseID,
		Number:       a.Number,
		CurrentPage:  a.CurrentPage,
		Finished:     a.Finished,
		TimeCreated:  toMillis(a.TimeCreated),
		TimeModified: toMillis(a.TimeModified),
	}
}

func (r attemptRow) toDomain() domain.OfflineAttempt {
	return domain.OfflineAttempt{
		ID:           r.ID,
		QuizID:       r.QuizID,
		UserID:       r.UserID,
		CourseID:     r.CourseID,
		Number:       r.Number,
		CurrentPage:  r.CurrentPage,
		Finished:     r.Finished,
		TimeCreated:  fromMillis(r.TimeCreated),
		TimeModified: fromMillis(r.TimeModified),
	}
}

func answerFromDomain(a domain.OfflineAnswer) answerRow {
	return answerRow{
		AttemptID:    a.AttemptID,
		Slot:         a.Slot,
		Name:         a.Name,
		QuizID:       a.QuizID,
		UserID:       a.UserID,
		Value:        a.Value,
		TimeModified: toMillis(a.TimeModified),
	}
}

func (r answerRow) toDomain() domain.OfflineAnswer {
	return domain.OfflineAnswer{
		AttemptID:    r.AttemptID,
		QuizID:       r.QuizID,
		UserID:       r.UserID,
		Slot:         r.Slot,
		Name:         r.Name,
		Value:        r.Value,
		TimeModified: fromMillis(r.TimeModified),
	}
}

func (r questionRow) toDomain() domain.OfflineQuestion {
	return domain.OfflineQuestion{
		AttemptID: r.AttemptID,
		QuizID:    r.QuizID,
		UserID:    r.UserID,
		Slot:      r.Slot,
		Number:    r.Number,
		State:     r.State,
		Status:    r.Status,
	}
}
