package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
)

type answerKey struct {
	attemptID int64
	slot      int
	name      string
}

type slotKey struct {
	attemptID int64
	slot      int
}

// Store is an in-memory offline store. It implements the engine's Store and
// the access rule PasswordStore.
type Store struct {
	mu        sync.RWMutex
	attempts  map[int64]domain.OfflineAttempt
	answers   map[answerKey]domain.OfflineAnswer
	questions map[slotKey]domain.OfflineQuestion
	syncTimes map[int64]time.Time
	warnings  map[int64][]string
	passwords map[int64]string
}

func NewStore() *Store {
	return &Store{
		attempts:  make(map[int64]domain.OfflineAttempt),
		answers:   make(map[answerKey]domain.OfflineAnswer),
		questions: make(map[slotKey]domain.OfflineQuestion),
		syncTimes: make(map[int64]time.Time),
		warnings:  make(map[int64][]string),
		passwords: make(map[int64]string),
	}
}

func (s *Store) GetAttempt(_ context.Context, attemptID int64) (domain.OfflineAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.OfflineAttempt{}, domain.ErrOfflineAttemptNotFound
	}
	return attempt, nil
}

func (s *Store) ListAttempts(_ context.Context) ([]domain.OfflineAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OfflineAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, a)
	}
	sortAttempts(out)
	return out, nil
}

func (s *Store) ListQuizAttempts(_ context.Context, quizID, userID int64) ([]domain.OfflineAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OfflineAttempt
	for _, a := range s.attempts {
		if a.QuizID == quizID && a.UserID == userID {
			out = append(out, a)
		}
	}
	sortAttempts(out)
	return out, nil
}

func sortAttempts(attempts []domain.OfflineAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].Number != attempts[j].Number {
			return attempts[i].Number < attempts[j].Number
		}
		return attempts[i].ID < attempts[j].ID
	})
}

func (s *Store) SaveAttempt(_ context.Context, attempt domain.OfflineAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *Store) SetCurrentPage(_ context.Context, attemptID int64, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrOfflineAttemptNotFound
	}
	attempt.CurrentPage = page
	s.attempts[attemptID] = attempt
	return nil
}

func (s *Store) AttemptAnswers(_ context.Context, attemptID int64) ([]domain.OfflineAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OfflineAnswer
	for key, a := range s.answers {
		if key.attemptID == attemptID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ReplaceAnswers runs under one write lock so readers never see a partial slot.
func (s *Store) ReplaceAnswers(_ context.Context, attemptID int64, slots []int, answers []domain.OfflineAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int]struct{}, len(slots))
	for _, slot := range slots {
		drop[slot] = struct{}{}
	}
	for key := range s.answers {
		if _, ok := drop[key.slot]; ok && key.attemptID == attemptID {
			delete(s.answers, key)
		}
	}
	for _, a := range answers {
		s.answers[answerKey{attemptID: attemptID, slot: a.Slot, name: a.Name}] = a
	}
	return nil
}

func (s *Store) AttemptQuestions(_ context.Context, attemptID int64) ([]domain.OfflineQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OfflineQuestion
	for key, q := range s.questions {
		if key.attemptID == attemptID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *Store) SaveQuestion(_ context.Context, question domain.OfflineQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[slotKey{attemptID: question.AttemptID, slot: question.Slot}] = question
	return nil
}

func (s *Store) RemoveQuestionAndAnswers(_ context.Context, attemptID int64, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.questions, slotKey{attemptID: attemptID, slot: slot})
	for key := range s.answers {
		if key.attemptID == attemptID && key.slot == slot {
			delete(s.answers, key)
		}
	}
	return nil
}

func (s *Store) RemoveAttemptAndAnswers(_ context.Context, attemptID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptID)
	for key := range s.answers {
		if key.attemptID == attemptID {
			delete(s.answers, key)
		}
	}
	for key := range s.questions {
		if key.attemptID == attemptID {
			delete(s.questions, key)
		}
	}
	return nil
}

func (s *Store) SyncTime(_ context.Context, quizID int64) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncTimes[quizID], nil
}

func (s *Store) SetSyncTime(_ context.Context, quizID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncTimes[quizID] = at
	return nil
}

func (s *Store) SyncWarnings(_ context.Context, quizID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.warnings[quizID]...), nil
}

func (s *Store) SetSyncWarnings(_ context.Context, quizID int64, warnings []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(warnings) == 0 {
		delete(s.warnings, quizID)
		return nil
	}
	s.warnings[quizID] = append([]string(nil), warnings...)
	return nil
}

func (s *Store) QuizPassword(_ context.Context, quizID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	password, ok := s.passwords[quizID]
	return password, ok, nil
}

func (s *Store) SaveQuizPassword(_ context.Context, quizID int64, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[quizID] = password
	return nil
}

func (s *Store) DeleteQuizPassword(_ context.Context, quizID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passwords, quizID)
	return nil
}
