package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
)

type countingStore struct {
	*memory.Store
	questionSaves int
	failQuestions bool
}

func (s *countingStore) SaveQuestion(ctx context.Context, q domain.OfflineQuestion) error {
	s.questionSaves++
	if s.failQuestions {
		return errors.New("disk full")
	}
	return s.Store.SaveQuestion(ctx, q)
}

func offlineQuestions() map[int]domain.Question {
	return map[int]domain.Question{
		1: question(1, 0, "1"),
		2: question(2, 0, "1"),
	}
}

func TestSaveAnswersOverwritesSlot(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	quiz, attempt := testQuiz(), inProgress()

	first := domain.Answers{"q1:1_answer": "a", "q1:1_-tries": "1", "q1:2_answer": "b"}
	if err := e.offline.SaveAnswers(ctx, quiz, attempt, offlineQuestions(), first, testStart); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	second := domain.Answers{"q1:1_answer": "c"}
	if err := e.offline.SaveAnswers(ctx, quiz, attempt, offlineQuestions(), second, testStart.Add(time.Second)); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	got, err := e.offline.AttemptAnswers(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(got) != 2 || got["q1:1_answer"] != "c" || got["q1:2_answer"] != "b" {
		t.Fatalf("expected slot 1 replaced and slot 2 kept, got %v", got)
	}
	if _, ok := got["q1:1_-tries"]; ok {
		t.Fatalf("leftover field from the first save: %v", got)
	}
}

func TestSaveAnswersWritesOnlyChangedStates(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	e := newEngine(t, standardRemote())
	e.session.Store = store
	offline := newOfflineService(e.session, e.registry)
	quiz, attempt := testQuiz(), inProgress()

	answers := domain.Answers{"q1:1_answer": "paris"}
	if err := offline.SaveAnswers(ctx, quiz, attempt, offlineQuestions(), answers, testStart); err != nil {
		t.Fatalf("save: %v", err)
	}
	// slot 1 moves todo -> complete; slot 2 stays todo
	if store.questionSaves != 1 {
		t.Fatalf("expected one state write, got %d", store.questionSaves)
	}
	states, _ := store.AttemptQuestions(ctx, attempt.ID)
	if len(states) != 1 || states[0].Slot != 1 || states[0].State != "complete" {
		t.Fatalf("unexpected states %+v", states)
	}

	// same answers again: the behaviour keeps the state, nothing is written
	if err := offline.SaveAnswers(ctx, quiz, attempt, offlineQuestions(), answers, testStart); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if store.questionSaves != 1 {
		t.Fatalf("expected no new state write, got %d", store.questionSaves)
	}
}

func TestSaveAnswersStateFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore(), failQuestions: true}
	e := newEngine(t, standardRemote())
	e.session.Store = store
	offline := newOfflineService(e.session, e.registry)

	err := offline.SaveAnswers(ctx, testQuiz(), inProgress(), offlineQuestions(), domain.Answers{"q1:1_answer": "x"}, testStart)
	if err != nil {
		t.Fatalf("expected state write errors to be logged only, got %v", err)
	}
	if got, _ := offline.AttemptAnswers(ctx, testAttempt); got["q1:1_answer"] != "x" {
		t.Fatalf("answers should be stored, got %v", got)
	}
}

func TestProcessAttemptUpsertsMetadata(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	quiz, attempt := testQuiz(), inProgress()

	if err := e.offline.ProcessAttempt(ctx, quiz, attempt, offlineQuestions(), domain.Answers{"q1:1_answer": "a"}, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	created, err := e.offline.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if created.Finished || created.QuizID != quiz.ID || created.CourseID != quiz.CourseID || created.UserID != testUserID {
		t.Fatalf("unexpected record %+v", created)
	}
	if unfinished, _ := e.offline.IsLastAttemptOfflineUnfinished(ctx, quiz); !unfinished {
		t.Fatalf("expected unfinished offline attempt")
	}

	e.clock.Advance(time.Minute)
	if err := e.offline.ProcessAttempt(ctx, quiz, attempt, offlineQuestions(), domain.Answers{"q1:1_answer": "b"}, true); err != nil {
		t.Fatalf("process finish: %v", err)
	}
	updated, _ := e.offline.GetAttempt(ctx, attempt.ID)
	if !updated.Finished {
		t.Fatalf("expected finished record")
	}
	if !updated.TimeCreated.Equal(created.TimeCreated) || !updated.TimeModified.After(created.TimeModified) {
		t.Fatalf("expected created kept and modified bumped: %+v", updated)
	}
	if unfinished, _ := e.offline.IsLastAttemptOfflineUnfinished(ctx, quiz); unfinished {
		t.Fatalf("expected last attempt finished")
	}
}

func TestLoadQuestionsLocalStatesOverlaysOnlyKnownSlots(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	_ = e.store.SaveQuestion(ctx, domain.OfflineQuestion{AttemptID: testAttempt, Slot: 2, State: "complete", Status: "Answer saved"})

	server := []domain.Question{question(1, 0, "1"), question(2, 0, "1")}
	got, err := e.offline.LoadQuestionsLocalStates(ctx, testAttempt, server)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got[0].State != "todo" {
		t.Fatalf("slot 1 should keep the server state, got %q", got[0].State)
	}
	if got[1].State != "complete" || got[1].Status != "Answer saved" {
		t.Fatalf("slot 2 should carry the local state, got %+v", got[1])
	}
	if server[1].State != "todo" {
		t.Fatalf("input slice must not be mutated")
	}
}

func TestRemoveQuestionAndAnswers(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	answers := domain.Answers{"q1:1_answer": "a", "q1:2_answer": "b"}
	if err := e.offline.ProcessAttempt(ctx, testQuiz(), inProgress(), offlineQuestions(), answers, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.offline.RemoveQuestionAndAnswers(ctx, testAttempt, 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := e.offline.AttemptAnswers(ctx, testAttempt)
	if len(got) != 1 || got["q1:2_answer"] != "b" {
		t.Fatalf("expected only slot 2 left, got %v", got)
	}
	states, _ := e.store.AttemptQuestions(ctx, testAttempt)
	for _, s := range states {
		if s.Slot == 1 {
			t.Fatalf("slot 1 state should be removed")
		}
	}
}
