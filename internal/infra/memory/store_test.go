package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
)

func TestStoreReplaceAnswersOverwritesSlot(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first := []domain.OfflineAnswer{
		{AttemptID: 1, Slot: 1, Name: "q1:1_answer", Value: "a"},
		{AttemptID: 1, Slot: 1, Name: "q1:1_extra", Value: "b"},
		{AttemptID: 1, Slot: 2, Name: "q1:2_answer", Value: "c"},
	}
	if err := store.ReplaceAnswers(ctx, 1, []int{1, 2}, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	second := []domain.OfflineAnswer{{AttemptID: 1, Slot: 1, Name: "q1:1_answer", Value: "z"}}
	if err := store.ReplaceAnswers(ctx, 1, []int{1}, second); err != nil {
		t.Fatalf("replace 2: %v", err)
	}

	got, err := store.AttemptAnswers(ctx, 1)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 answers, got %+v", got)
	}
	if got[0].Name != "q1:1_answer" || got[0].Value != "z" {
		t.Fatalf("unexpected slot 1 answer %+v", got[0])
	}
	if got[1].Slot != 2 {
		t.Fatalf("slot 2 should be untouched, got %+v", got[1])
	}
}

func TestStoreRemoveAttemptCascades(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.SaveAttempt(ctx, domain.OfflineAttempt{ID: 7, QuizID: 3, UserID: 2})
	_ = store.ReplaceAnswers(ctx, 7, []int{1}, []domain.OfflineAnswer{{AttemptID: 7, Slot: 1, Name: "q9:1_answer", Value: "x"}})
	_ = store.SaveQuestion(ctx, domain.OfflineQuestion{AttemptID: 7, Slot: 1, State: "complete"})

	if err := store.RemoveAttemptAndAnswers(ctx, 7); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.GetAttempt(ctx, 7); !errors.Is(err, domain.ErrOfflineAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	answers, _ := store.AttemptAnswers(ctx, 7)
	questions, _ := store.AttemptQuestions(ctx, 7)
	if len(answers) != 0 || len(questions) != 0 {
		t.Fatalf("expected cascade, got %d answers %d questions", len(answers), len(questions))
	}
}

func TestStoreListQuizAttemptsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.SaveAttempt(ctx, domain.OfflineAttempt{ID: 12, QuizID: 3, UserID: 2, Number: 2})
	_ = store.SaveAttempt(ctx, domain.OfflineAttempt{ID: 11, QuizID: 3, UserID: 2, Number: 1})
	_ = store.SaveAttempt(ctx, domain.OfflineAttempt{ID: 13, QuizID: 3, UserID: 5, Number: 1})
	_ = store.SaveAttempt(ctx, domain.OfflineAttempt{ID: 14, QuizID: 4, UserID: 2, Number: 1})

	got, err := store.ListQuizAttempts(ctx, 3, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != 11 || got[1].ID != 12 {
		t.Fatalf("unexpected attempts %+v", got)
	}
}

func TestStoreSyncState(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.SetSyncTime(ctx, 3, at); err != nil {
		t.Fatalf("set sync time: %v", err)
	}
	got, _ := store.SyncTime(ctx, 3)
	if !got.Equal(at) {
		t.Fatalf("sync time = %v", got)
	}

	_ = store.SetSyncWarnings(ctx, 3, []string{"w"})
	warnings, _ := store.SyncWarnings(ctx, 3)
	if len(warnings) != 1 || warnings[0] != "w" {
		t.Fatalf("warnings = %v", warnings)
	}
	_ = store.SetSyncWarnings(ctx, 3, nil)
	if warnings, _ := store.SyncWarnings(ctx, 3); len(warnings) != 0 {
		t.Fatalf("expected cleared warnings, got %v", warnings)
	}
}
