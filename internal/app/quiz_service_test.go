package app_test

import (
	"context"
	"errors"
	"testing"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
)

func TestQuizServiceReadStrategies(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())

	for i := 0; i < 2; i++ {
		if _, err := e.quizzes.GetAttemptData(ctx, testAttempt, 0, nil, app.ReadPreferCache); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if e.remote.dataCalls != 1 {
		t.Fatalf("expected cached second read, got %d calls", e.remote.dataCalls)
	}

	if _, err := e.quizzes.GetAttemptData(ctx, testAttempt, 0, nil, app.ReadOnlyNetwork); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.remote.dataCalls != 2 {
		t.Fatalf("expected network read, got %d calls", e.remote.dataCalls)
	}

	e.quizzes.InvalidateAttempt(ctx, testAttempt)
	if e.cache.Len() != 0 {
		t.Fatalf("expected attempt entries dropped, %d left", e.cache.Len())
	}
	if _, err := e.quizzes.GetAttemptData(ctx, testAttempt, 0, nil, app.ReadPreferCache); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.remote.dataCalls != 3 {
		t.Fatalf("expected refetch after invalidation, got %d calls", e.remote.dataCalls)
	}
}

func TestQuizServiceCachedReadSurvivesOutage(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	e.remote.attempts = []domain.Attempt{inProgress()}

	if _, err := e.quizzes.GetUserAttempts(ctx, testQuizID, app.ReadOnlyNetwork); err != nil {
		t.Fatalf("read: %v", err)
	}
	e.remote.attemptsErr = errNetwork
	if _, err := e.quizzes.GetUserAttempts(ctx, testQuizID, app.ReadOnlyNetwork); !errors.Is(err, errNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	got, err := e.quizzes.GetUserAttempts(ctx, testQuizID, app.ReadPreferCache)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected cached attempts, got %v %v", got, err)
	}
}

func TestQuizServiceUserAttemptsSortedWithOfflineState(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	second := domain.Attempt{ID: 201, QuizID: testQuizID, Number: 2, State: domain.StateInProgress}
	first := domain.Attempt{ID: 200, QuizID: testQuizID, Number: 1, State: domain.StateFinished}
	e.remote.attempts = []domain.Attempt{second, first}
	if err := e.offline.ProcessAttempt(ctx, testQuiz(), second, nil, nil, true); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := e.quizzes.GetUserAttempts(ctx, testQuizID, app.ReadOnlyNetwork)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(got) != 2 || got[0].ID != 200 || got[1].ID != 201 {
		t.Fatalf("expected attempts by number, got %+v", got)
	}
	if got[0].FinishedOffline || !got[1].FinishedOffline {
		t.Fatalf("expected only the second attempt finished offline: %+v", got)
	}
}

func TestQuizServiceReviewFiltersUnsupportedQuestions(t *testing.T) {
	remote := standardRemote()
	drawing := question(4, 1, "1")
	drawing.Type = "drawing"
	remote.setPage(1, question(3, 1, "1"), drawing)
	remote.attempts = []domain.Attempt{{ID: testAttempt, QuizID: testQuizID, State: domain.StateFinished}}
	e := newEngine(t, remote)

	review, err := e.quizzes.GetAttemptReview(context.Background(), testQuizID, testAttempt, -1, app.ReadOnlyNetwork)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(review.Questions) != 3 || review.Grade != "7.00" {
		t.Fatalf("unexpected review %+v", review)
	}
	for _, q := range review.Questions {
		if q.Type == "drawing" {
			t.Fatalf("unsupported question left in review")
		}
	}
}

func TestQuizServiceOfflineProcessStaysLocal(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	quiz, attempt := offlineQuiz(), inProgress()

	state, err := e.quizzes.ProcessAttempt(ctx, quiz, attempt, domain.Answers{"q1:3_answer": "42"}, nil, false, false, true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if state != domain.StateInProgress {
		t.Fatalf("offline state must not change, got %q", state)
	}
	if len(e.remote.process()) != 0 {
		t.Fatalf("offline process must not call the service")
	}
	if got, _ := e.offline.AttemptAnswers(ctx, testAttempt); got["q1:3_answer"] != "42" {
		t.Fatalf("expected answers stored, got %v", got)
	}

	if err := e.quizzes.SaveAttempt(ctx, quiz, attempt, domain.Answers{"q1:1_answer": "a"}, nil, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(e.remote.saves()) != 0 {
		t.Fatalf("offline save must not call the service")
	}
	if got, _ := e.offline.AttemptAnswers(ctx, testAttempt); len(got) != 2 {
		t.Fatalf("expected both slots stored, got %v", got)
	}
}

func TestQuizServiceOnlineErrorsAreTyped(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, standardRemote())
	e.remote.saveErrs = []error{errNetwork}

	err := e.quizzes.SaveAttempt(ctx, testQuiz(), inProgress(), domain.Answers{"q1:1_answer": "a"}, nil, false)
	var opErr *domain.OperationError
	if !errors.As(err, &opErr) || opErr.AttemptID != testAttempt || !errors.Is(err, errNetwork) {
		t.Fatalf("expected typed save error, got %v", err)
	}
}
