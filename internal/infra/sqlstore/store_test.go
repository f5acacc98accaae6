package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "offline.db")
	db, err := Open(ctx, DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

var created = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, "file:"+filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applied, err := Migrate(ctx, db)
	if err != nil || len(applied) != 1 {
		t.Fatalf("expected one migration applied, got %v %v", applied, err)
	}
	applied, err = Migrate(ctx, db)
	if err != nil || len(applied) != 0 {
		t.Fatalf("expected nothing left to apply, got %v %v", applied, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", ""); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestOpenPgxParsesDSN(t *testing.T) {
	_, err := Open(context.Background(), DriverPgx, "postgres://quiz@localhost:notaport/quizdb")
	if err == nil || !strings.Contains(err.Error(), "parse pgx dsn") {
		t.Fatalf("expected dsn parse error, got %v", err)
	}
}

func TestAttemptUpsertAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetAttempt(ctx, 1); !errors.Is(err, domain.ErrOfflineAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	second := domain.OfflineAttempt{ID: 8, QuizID: 3, UserID: 2, CourseID: 10, Number: 2, TimeCreated: created, TimeModified: created}
	first := domain.OfflineAttempt{ID: 9, QuizID: 3, UserID: 2, CourseID: 10, Number: 1, TimeCreated: created, TimeModified: created}
	other := domain.OfflineAttempt{ID: 10, QuizID: 4, UserID: 2, Number: 1, TimeCreated: created, TimeModified: created}
	for _, a := range []domain.OfflineAttempt{second, first, other} {
		if err := s.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	first.Finished = true
	first.TimeModified = created.Add(time.Minute)
	if err := s.SaveAttempt(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetAttempt(ctx, 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Finished || !got.TimeCreated.Equal(created) || !got.TimeModified.Equal(created.Add(time.Minute)) {
		t.Fatalf("unexpected attempt %+v", got)
	}

	quizAttempts, err := s.ListQuizAttempts(ctx, 3, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(quizAttempts) != 2 || quizAttempts[0].ID != 9 || quizAttempts[1].ID != 8 {
		t.Fatalf("expected attempts by number, got %+v", quizAttempts)
	}
	all, _ := s.ListAttempts(ctx)
	if len(all) != 3 {
		t.Fatalf("expected three attempts, got %d", len(all))
	}

	if err := s.SetCurrentPage(ctx, 9, 2); err != nil {
		t.Fatalf("set page: %v", err)
	}
	if got, _ := s.GetAttempt(ctx, 9); got.CurrentPage != 2 {
		t.Fatalf("expected page 2, got %d", got.CurrentPage)
	}
	if err := s.SetCurrentPage(ctx, 99, 1); !errors.Is(err, domain.ErrOfflineAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplaceAnswersOnlyTouchesGivenSlots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	answer := func(slot int, name, value string) domain.OfflineAnswer {
		return domain.OfflineAnswer{AttemptID: 5, QuizID: 3, UserID: 2, Slot: slot, Name: name, Value: value, TimeModified: created}
	}

	err := s.ReplaceAnswers(ctx, 5, []int{1, 2}, []domain.OfflineAnswer{
		answer(1, "q1:1_answer", "a"),
		answer(1, "q1:1_-tries", "1"),
		answer(2, "q1:2_answer", "b"),
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplaceAnswers(ctx, 5, []int{1}, []domain.OfflineAnswer{answer(1, "q1:1_answer", "c")}); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	got, err := s.AttemptAnswers(ctx, 5)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(got) != 2 || got[0].Name != "q1:1_answer" || got[0].Value != "c" || got[1].Value != "b" {
		t.Fatalf("unexpected answers %+v", got)
	}
	if !got[0].TimeModified.Equal(created) {
		t.Fatalf("time lost precision: %v", got[0].TimeModified)
	}
}

func TestQuestionsAndRemoval(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.SaveAttempt(ctx, domain.OfflineAttempt{ID: 5, QuizID: 3, UserID: 2, Number: 1})
	_ = s.ReplaceAnswers(ctx, 5, []int{1, 2}, []domain.OfflineAnswer{
		{AttemptID: 5, Slot: 1, Name: "q1:1_answer", Value: "a"},
		{AttemptID: 5, Slot: 2, Name: "q1:2_answer", Value: "b"},
	})
	for _, q := range []domain.OfflineQuestion{
		{AttemptID: 5, Slot: 1, State: "todo"},
		{AttemptID: 5, Slot: 1, State: "complete", Status: "Answer saved"},
		{AttemptID: 5, Slot: 2, State: "complete"},
	} {
		if err := s.SaveQuestion(ctx, q); err != nil {
			t.Fatalf("save question: %v", err)
		}
	}
	questions, _ := s.AttemptQuestions(ctx, 5)
	if len(questions) != 2 || questions[0].State != "complete" || questions[0].Status != "Answer saved" {
		t.Fatalf("unexpected questions %+v", questions)
	}

	if err := s.RemoveQuestionAndAnswers(ctx, 5, 1); err != nil {
		t.Fatalf("remove slot: %v", err)
	}
	answers, _ := s.AttemptAnswers(ctx, 5)
	questions, _ = s.AttemptQuestions(ctx, 5)
	if len(answers) != 1 || len(questions) != 1 || answers[0].Slot != 2 {
		t.Fatalf("expected only slot 2 left, got %+v %+v", answers, questions)
	}

	if err := s.RemoveAttemptAndAnswers(ctx, 5); err != nil {
		t.Fatalf("remove attempt: %v", err)
	}
	answers, _ = s.AttemptAnswers(ctx, 5)
	questions, _ = s.AttemptQuestions(ctx, 5)
	if _, err := s.GetAttempt(ctx, 5); !errors.Is(err, domain.ErrOfflineAttemptNotFound) || len(answers) != 0 || len(questions) != 0 {
		t.Fatalf("expected attempt fully removed")
	}
}

func TestSyncStateAndPasswords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if at, err := s.SyncTime(ctx, 3); err != nil || !at.IsZero() {
		t.Fatalf("expected zero sync time, got %v %v", at, err)
	}
	_ = s.SetSyncWarnings(ctx, 3, []string{"discarded"})
	if err := s.SetSyncTime(ctx, 3, created); err != nil {
		t.Fatalf("set sync time: %v", err)
	}
	if at, _ := s.SyncTime(ctx, 3); !at.Equal(created) {
		t.Fatalf("unexpected sync time %v", at)
	}
	warnings, err := s.SyncWarnings(ctx, 3)
	if err != nil || len(warnings) != 1 || warnings[0] != "discarded" {
		t.Fatalf("sync time update clobbered warnings: %v %v", warnings, err)
	}
	_ = s.SetSyncWarnings(ctx, 3, nil)
	if warnings, _ := s.SyncWarnings(ctx, 3); warnings != nil {
		t.Fatalf("expected warnings cleared, got %v", warnings)
	}

	if _, ok, _ := s.QuizPassword(ctx, 3); ok {
		t.Fatalf("expected no password")
	}
	_ = s.SaveQuizPassword(ctx, 3, "one")
	_ = s.SaveQuizPassword(ctx, 3, "two")
	if pw, ok, _ := s.QuizPassword(ctx, 3); !ok || pw != "two" {
		t.Fatalf("unexpected password %q %v", pw, ok)
	}
	_ = s.DeleteQuizPassword(ctx, 3)
	if _, ok, _ := s.QuizPassword(ctx, 3); ok {
		t.Fatalf("expected password deleted")
	}
}
