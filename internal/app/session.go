package app

import (
	"context"
	"log/slog"
	"time"

	"quiz-attempt-engine/internal/clock"
	"quiz-attempt-engine/internal/domain"
)

// OfflineRepository stores offline attempts, their answers and question states.
// Implementations serialize writes on a single handle.
type OfflineRepository interface {
	GetAttempt(ctx context.Context, attemptID int64) (domain.OfflineAttempt, error)
	ListAttempts(ctx context.Context) ([]domain.OfflineAttempt, error)
	ListQuizAttempts(ctx context.Context, quizID, userID int64) ([]domain.OfflineAttempt, error)
	SaveAttempt(ctx context.Context, attempt domain.OfflineAttempt) error
	SetCurrentPage(ctx context.Context, attemptID int64, page int) error
	AttemptAnswers(ctx context.Context, attemptID int64) ([]domain.OfflineAnswer, error)
	// ReplaceAnswers deletes the stored answers of the slots, then writes answers, atomically.
	ReplaceAnswers(ctx context.Context, attemptID int64, slots []int, answers []domain.OfflineAnswer) error
	AttemptQuestions(ctx context.Context, attemptID int64) ([]domain.OfflineQuestion, error)
	SaveQuestion(ctx context.Context, question domain.OfflineQuestion) error
	RemoveQuestionAndAnswers(ctx context.Context, attemptID int64, slot int) error
	RemoveAttemptAndAnswers(ctx context.Context, attemptID int64) error
}

// SyncStateRepository keeps the last sync time and warnings of each quiz.
type SyncStateRepository interface {
	SyncTime(ctx context.Context, quizID int64) (time.Time, error)
	SetSyncTime(ctx context.Context, quizID int64, at time.Time) error
	SyncWarnings(ctx context.Context, quizID int64) ([]string, error)
	SetSyncWarnings(ctx context.Context, quizID int64, warnings []string) error
}

// Store is the local database of one site user.
type Store interface {
	OfflineRepository
	SyncStateRepository
}

// Blocker marks quizzes that are being played so they are not synced meanwhile.
type Blocker interface {
	Block(ctx context.Context, quizID int64) error
	Unblock(ctx context.Context, quizID int64) error
	IsBlocked(ctx context.Context, quizID int64) (bool, error)
	// Refresh extends a block that is still held. Blocks with no expiry ignore it.
	Refresh(ctx context.Context, quizID int64) error
}

// Network reports connectivity.
type Network interface {
	IsOnline() bool
	IsNetworkAccessLimited() bool
}

// StaticNetwork is a Network with fixed answers.
type StaticNetwork struct {
	Online  bool
	Limited bool
}

func (n StaticNetwork) IsOnline() bool               { return n.Online }
func (n StaticNetwork) IsNetworkAccessLimited() bool { return n.Limited }

// Session is the context every engine component of one site user is built with.
type Session struct {
	SiteID string
	UserID int64
	Clock  clock.Clock
	Logger *slog.Logger
	Store  Store
}

func (s Session) withDefaults() Session {
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.Logger = s.Logger.With("site_id", s.SiteID, "user_id", s.UserID)
	return s
}

func (s Session) now() time.Time {
	return s.Clock.Now()
}
