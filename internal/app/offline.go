package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// Evaluator computes the behaviour state a question moves to after new answers.
type Evaluator interface {
	DetermineNewState(ctx context.Context, behaviour string, attemptID int64, q domain.QuestionWithAnswers) (*domain.QuestionState, error)
}

// OfflineService keeps attempts answered without connection in the local store.
type OfflineService struct {
	session   Session
	repo      OfflineRepository
	evaluator Evaluator
}

// NewOfflineService builds the offline answer store over the session store.
func NewOfflineService(session Session, evaluator Evaluator) *OfflineService {
	session = session.withDefaults()
	return &OfflineService{session: session, repo: session.Store, evaluator: evaluator}
}

// ProcessAttempt records the attempt metadata and saves its answers.
func (s *OfflineService) ProcessAttempt(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, questions map[int]domain.Question, answers domain.Answers, finish bool) error {
	now := s.session.now()

	entry, err := s.repo.GetAttempt(ctx, attempt.ID)
	switch {
	case err == nil:
		entry.TimeModified = now
		entry.Finished = finish
	case errors.Is(err, domain.ErrOfflineAttemptNotFound):
		entry = domain.OfflineAttempt{
			ID:           attempt.ID,
			QuizID:       quiz.ID,
			UserID:       s.session.UserID,
			CourseID:     quiz.CourseID,
			Number:       attempt.Number,
			CurrentPage:  attempt.CurrentPage,
			Finished:     finish,
			TimeCreated:  now,
			TimeModified: now,
		}
	default:
		return fmt.Errorf("load offline attempt %d: %w", attempt.ID, err)
	}

	if err := s.repo.SaveAttempt(ctx, entry); err != nil {
		return fmt.Errorf("save offline attempt %d: %w", attempt.ID, err)
	}
	return s.SaveAnswers(ctx, quiz, attempt, questions, answers, now)
}

// SaveAnswers stores answers grouped by question slot. Stored answers of each
// slot are replaced, never merged, and only changed behaviour states are written.
func (s *OfflineService) SaveAnswers(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, questions map[int]domain.Question, answers domain.Answers, timeModified time.Time) error {
	stored, err := s.AttemptAnswers(ctx, attempt.ID)
	if err != nil {
		return err
	}
	storedBySlot := domain.ClassifyAnswers(stored)

	withAnswers := make(map[int]*domain.QuestionWithAnswers, len(questions))
	for slot, q := range questions {
		if q.LocalAnswers == nil {
			if prev, ok := storedBySlot[slot]; ok {
				q.LocalAnswers = prev.Answers
			}
		}
		withAnswers[slot] = &domain.QuestionWithAnswers{Question: q, Answers: make(domain.Answers)}
	}

	names := make([]string, 0, len(answers))
	for name := range answers {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]domain.OfflineAnswer, 0, len(answers))
	answered := make(map[int]struct{})
	for _, name := range names {
		slot := domain.SlotFromName(name)
		qa, ok := withAnswers[slot]
		if !ok {
			s.session.Logger.Debug("answer without question", "attempt_id", attempt.ID, "name", name)
			continue
		}
		qa.Answers[domain.StripPrefix(name)] = answers[name]
		answered[slot] = struct{}{}
		rows = append(rows, domain.OfflineAnswer{
			AttemptID:    attempt.ID,
			QuizID:       quiz.ID,
			UserID:       s.session.UserID,
			Slot:         slot,
			Name:         name,
			Value:        answers[name],
			TimeModified: timeModified,
		})
	}

	slots := make([]int, 0, len(withAnswers))
	for slot := range withAnswers {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	newStates := make(map[int]domain.QuestionState)
	for _, slot := range slots {
		if _, ok := answered[slot]; !ok {
			continue
		}
		qa := withAnswers[slot]
		state, err := s.evaluator.DetermineNewState(ctx, quiz.PreferredBehaviour, attempt.ID, *qa)
		if err != nil {
			return fmt.Errorf("determine state of slot %d: %w", slot, err)
		}
		if state != nil && state.Name != qa.State {
			newStates[slot] = *state
		}
	}

	replaced := make([]int, 0, len(answered))
	for _, slot := range slots {
		if _, ok := answered[slot]; ok {
			replaced = append(replaced, slot)
		}
	}
	// Slots without answers in this save keep what was stored.
	if err := s.repo.ReplaceAnswers(ctx, attempt.ID, replaced, rows); err != nil {
		return fmt.Errorf("save offline answers of attempt %d: %w", attempt.ID, err)
	}

	for _, slot := range slots {
		state, ok := newStates[slot]
		if !ok {
			continue
		}
		q := withAnswers[slot]
		err := s.repo.SaveQuestion(ctx, domain.OfflineQuestion{
			AttemptID: attempt.ID,
			QuizID:    quiz.ID,
			UserID:    s.session.UserID,
			Slot:      slot,
			Number:    q.Number,
			State:     state.Name,
			Status:    state.Status,
		})
		if err != nil {
			// Answers are already stored; a stale state only affects display.
			s.session.Logger.Error("save question state", "attempt_id", attempt.ID, "slot", slot, "error", err)
		}
	}
	return nil
}

// LoadQuestionsLocalStates overlays stored behaviour states on server question views.
// Questions without a local record are returned unchanged.
func (s *OfflineService) LoadQuestionsLocalStates(ctx context.Context, attemptID int64, questions []domain.Question) ([]domain.Question, error) {
	stored, err := s.repo.AttemptQuestions(ctx, attemptID)
	if err != nil {
		return questions, fmt.Errorf("load question states of attempt %d: %w", attemptID, err)
	}
	bySlot := make(map[int]domain.OfflineQuestion, len(stored))
	for _, q := range stored {
		bySlot[q.Slot] = q
	}

	out := make([]domain.Question, len(questions))
	for i, q := range questions {
		if local, ok := bySlot[q.Slot]; ok {
			q.State = local.State
			q.Status = local.Status
		}
		out[i] = q
	}
	return out, nil
}

// LoadQuestionsLocalAnswers attaches stored answers to the question views.
func (s *OfflineService) LoadQuestionsLocalAnswers(ctx context.Context, attemptID int64, questions []domain.Question) ([]domain.Question, error) {
	stored, err := s.AttemptAnswers(ctx, attemptID)
	if err != nil {
		return questions, err
	}
	bySlot := domain.ClassifyAnswers(stored)

	out := make([]domain.Question, len(questions))
	for i, q := range questions {
		if local, ok := bySlot[q.Slot]; ok {
			q.LocalAnswers = local.Answers
		}
		out[i] = q
	}
	return out, nil
}

// GetAttempt returns the stored attempt or domain.ErrOfflineAttemptNotFound.
func (s *OfflineService) GetAttempt(ctx context.Context, attemptID int64) (domain.OfflineAttempt, error) {
	return s.repo.GetAttempt(ctx, attemptID)
}

// QuizAttempts lists the stored attempts of the session user for a quiz, oldest first.
func (s *OfflineService) QuizAttempts(ctx context.Context, quizID int64) ([]domain.OfflineAttempt, error) {
	return s.repo.ListQuizAttempts(ctx, quizID, s.session.UserID)
}

// AllAttempts lists every stored attempt.
func (s *OfflineService) AllAttempts(ctx context.Context) ([]domain.OfflineAttempt, error) {
	return s.repo.ListAttempts(ctx)
}

// AttemptAnswers returns the stored answers keyed by prefixed name.
func (s *OfflineService) AttemptAnswers(ctx context.Context, attemptID int64) (domain.Answers, error) {
	rows, err := s.repo.AttemptAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load offline answers of attempt %d: %w", attemptID, err)
	}
	answers := make(domain.Answers, len(rows))
	for _, row := range rows {
		answers[row.Name] = row.Value
	}
	return answers, nil
}

// SetAttemptCurrentPage records the last page viewed offline.
func (s *OfflineService) SetAttemptCurrentPage(ctx context.Context, attemptID int64, page int) error {
	return s.repo.SetCurrentPage(ctx, attemptID, page)
}

// RemoveAttemptAndAnswers deletes the attempt, its answers and question states.
func (s *OfflineService) RemoveAttemptAndAnswers(ctx context.Context, attemptID int64) error {
	return s.repo.RemoveAttemptAndAnswers(ctx, attemptID)
}

// RemoveQuestionAndAnswers deletes the answers and state of one slot.
func (s *OfflineService) RemoveQuestionAndAnswers(ctx context.Context, attemptID int64, slot int) error {
	return s.repo.RemoveQuestionAndAnswers(ctx, attemptID, slot)
}

// IsLastAttemptOfflineUnfinished reports whether the newest stored attempt of
// the quiz is still open locally.
func (s *OfflineService) IsLastAttemptOfflineUnfinished(ctx context.Context, quiz domain.Quiz) (bool, error) {
	attempts, err := s.QuizAttempts(ctx, quiz.ID)
	if err != nil {
		return false, err
	}
	if len(attempts) == 0 {
		return false, nil
	}
	return !attempts[len(attempts)-1].Finished, nil
}

// HasAttemptFinishedOffline reports whether the attempt is finished locally.
func (s *OfflineService) HasAttemptFinishedOffline(ctx context.Context, attemptID int64) (bool, error) {
	entry, err := s.repo.GetAttempt(ctx, attemptID)
	if errors.Is(err, domain.ErrOfflineAttemptNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.Finished, nil
}
