package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"quiz-attempt-engine/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RemoteClient talks to the assessment service. Calls are stateless.
type RemoteClient interface {
	GetQuiz(ctx context.Context, courseID, quizID int64) (domain.Quiz, error)
	GetQuizAccessInformation(ctx context.Context, quizID int64) (domain.QuizAccessInfo, error)
	GetAttemptAccessInformation(ctx context.Context, quizID, attemptID int64) (domain.AttemptAccessInfo, error)
	GetQuizRequiredQtypes(ctx context.Context, quizID int64) ([]string, error)
	GetUserAttempts(ctx context.Context, quizID, userID int64) ([]domain.Attempt, error)
	StartAttempt(ctx context.Context, quizID int64, preflight domain.PreflightData, forceNew bool) (domain.Attempt, error)
	GetAttemptData(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData) (domain.AttemptPage, error)
	GetAttemptSummary(ctx context.Context, attemptID int64, preflight domain.PreflightData) ([]domain.Question, error)
	GetAttemptReview(ctx context.Context, attemptID int64, page int) (domain.AttemptReview, error)
	SaveAttempt(ctx context.Context, attemptID int64, answers domain.Answers, preflight domain.PreflightData) error
	ProcessAttempt(ctx context.Context, attemptID int64, answers domain.Answers, preflight domain.PreflightData, finish, timeUp bool) (domain.AttemptState, error)
	ViewAttempt(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData) error
}

// ResponseCache keeps remote responses for reading without a connection.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// QuestionSupport tells which question types the client can render.
type QuestionSupport interface {
	SupportsQuestionType(qtype string) bool
	UnsupportedQuestionTypes(qtypes []string) []string
}

// ReadStrategy selects where reads are served from.
type ReadStrategy int

const (
	// ReadPreferCache serves cached responses and only calls the service on a miss.
	ReadPreferCache ReadStrategy = iota
	// ReadOnlyNetwork always calls the service.
	ReadOnlyNetwork
)

// QuizService wraps the remote client with caching and the offline store.
type QuizService struct {
	session   Session
	remote    RemoteClient
	cache     ResponseCache
	offline   *OfflineService
	questions QuestionSupport
	sf        singleflight.Group
}

// NewQuizService builds the service. cache may be nil.
func NewQuizService(session Session, remote RemoteClient, cache ResponseCache, offline *OfflineService, questions QuestionSupport) *QuizService {
	return &QuizService{
		session:   session.withDefaults(),
		remote:    remote,
		cache:     cache,
		offline:   offline,
		questions: questions,
	}
}

func (s *QuizService) quizKey(quizID int64, parts ...any) string {
	key := fmt.Sprintf("%s:quiz:%d:", s.session.SiteID, quizID)
	for _, p := range parts {
		key += fmt.Sprint(p) + ":"
	}
	return key
}

func (s *QuizService) attemptKey(attemptID int64, parts ...any) string {
	key := fmt.Sprintf("%s:attempt:%d:", s.session.SiteID, attemptID)
	for _, p := range parts {
		key += fmt.Sprint(p) + ":"
	}
	return key
}

func cachedRead[T any](ctx context.Context, s *QuizService, key string, strategy ReadStrategy, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.cache != nil && strategy == ReadPreferCache {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.session.Logger.Debug("cache read failed", "key", key, "error", err)
		}
		if ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}
	}

	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		if s.cache != nil {
			if raw, err := json.Marshal(v); err == nil {
				if err := s.cache.Set(ctx, key, raw); err != nil {
					s.session.Logger.Debug("cache write failed", "key", key, "error", err)
				}
			}
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

// GetQuiz returns the quiz configuration.
func (s *QuizService) GetQuiz(ctx context.Context, courseID, quizID int64, strategy ReadStrategy) (domain.Quiz, error) {
	return cachedRead(ctx, s, s.quizKey(quizID, "quiz"), strategy, func(ctx context.Context) (domain.Quiz, error) {
		return s.remote.GetQuiz(ctx, courseID, quizID)
	})
}

// GetQuizAccessInformation returns the access rules of the quiz.
func (s *QuizService) GetQuizAccessInformation(ctx context.Context, quizID int64, strategy ReadStrategy) (domain.QuizAccessInfo, error) {
	return cachedRead(ctx, s, s.quizKey(quizID, "access"), strategy, func(ctx context.Context) (domain.QuizAccessInfo, error) {
		return s.remote.GetQuizAccessInformation(ctx, quizID)
	})
}

// GetAttemptAccessInformation returns the access information of an attempt. attemptID may be 0.
func (s *QuizService) GetAttemptAccessInformation(ctx context.Context, quizID, attemptID int64, strategy ReadStrategy) (domain.AttemptAccessInfo, error) {
	return cachedRead(ctx, s, s.quizKey(quizID, "attemptaccess", attemptID), strategy, func(ctx context.Context) (domain.AttemptAccessInfo, error) {
		return s.remote.GetAttemptAccessInformation(ctx, quizID, attemptID)
	})
}

// GetQuizRequiredQtypes returns the question types used by the quiz.
func (s *QuizService) GetQuizRequiredQtypes(ctx context.Context, quizID int64, strategy ReadStrategy) ([]string, error) {
	return cachedRead(ctx, s, s.quizKey(quizID, "qtypes"), strategy, func(ctx context.Context) ([]string, error) {
		return s.remote.GetQuizRequiredQtypes(ctx, quizID)
	})
}

// GetUserAttempts returns the session user's attempts, oldest first, with
// FinishedOffline set from the local store.
func (s *QuizService) GetUserAttempts(ctx context.Context, quizID int64, strategy ReadStrategy) ([]domain.Attempt, error) {
	attempts, err := cachedRead(ctx, s, s.quizKey(quizID, "attempts", s.session.UserID), strategy, func(ctx context.Context) ([]domain.Attempt, error) {
		return s.remote.GetUserAttempts(ctx, quizID, s.session.UserID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attempt, len(attempts))
	copy(out, attempts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if s.offline != nil {
		for i := range out {
			finished, err := s.offline.HasAttemptFinishedOffline(ctx, out[i].ID)
			if err != nil {
				s.session.Logger.Warn("read offline attempt", "attempt_id", out[i].ID, "error", err)
				continue
			}
			out[i].FinishedOffline = finished
		}
	}
	return out, nil
}

// StartAttempt starts a new attempt on the service.
func (s *QuizService) StartAttempt(ctx context.Context, quizID int64, preflight domain.PreflightData, forceNew bool) (domain.Attempt, error) {
	attempt, err := s.remote.StartAttempt(ctx, quizID, preflight, forceNew)
	if err != nil {
		return domain.Attempt{}, &domain.OperationError{Op: "start attempt", QuizID: quizID, Err: err}
	}
	s.invalidate(ctx, s.quizKey(quizID))
	return attempt, nil
}

// GetAttemptData returns one page of an attempt.
func (s *QuizService) GetAttemptData(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData, strategy ReadStrategy) (domain.AttemptPage, error) {
	data, err := cachedRead(ctx, s, s.attemptKey(attemptID, "page", page), strategy, func(ctx context.Context) (domain.AttemptPage, error) {
		return s.remote.GetAttemptData(ctx, attemptID, page, preflight)
	})
	if err != nil {
		return domain.AttemptPage{}, err
	}
	data.Questions = append([]domain.Question(nil), data.Questions...)
	return data, nil
}

// GetAllQuestionsData fetches the given pages concurrently and indexes their questions by slot.
func (s *QuizService) GetAllQuestionsData(ctx context.Context, attempt domain.Attempt, preflight domain.PreflightData, pages []int, strategy ReadStrategy) (map[int]domain.Question, error) {
	if pages == nil {
		pages = domain.PagesFromLayout(attempt.Layout)
	}

	var mu sync.Mutex
	questions := make(map[int]domain.Question)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, page := range pages {
		page := page
		g.Go(func() error {
			data, err := s.GetAttemptData(gctx, attempt.ID, page, preflight, strategy)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, q := range data.Questions {
				questions[q.Slot] = q
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &domain.OperationError{Op: "get questions data", QuizID: attempt.QuizID, AttemptID: attempt.ID, Err: err}
	}
	return questions, nil
}

// GetAttemptSummary returns the questions of the attempt. With loadLocal set,
// offline behaviour states are overlaid.
func (s *QuizService) GetAttemptSummary(ctx context.Context, attempt domain.Attempt, preflight domain.PreflightData, loadLocal bool, strategy ReadStrategy) ([]domain.Question, error) {
	questions, err := cachedRead(ctx, s, s.attemptKey(attempt.ID, "summary"), strategy, func(ctx context.Context) ([]domain.Question, error) {
		return s.remote.GetAttemptSummary(ctx, attempt.ID, preflight)
	})
	if err != nil {
		return nil, err
	}
	questions = append([]domain.Question(nil), questions...)
	if loadLocal && s.offline != nil {
		return s.offline.LoadQuestionsLocalStates(ctx, attempt.ID, questions)
	}
	return questions, nil
}

// GetAttemptReview returns the review of an attempt without the questions the
// client cannot render.
func (s *QuizService) GetAttemptReview(ctx context.Context, quizID, attemptID int64, page int, strategy ReadStrategy) (domain.AttemptReview, error) {
	review, err := cachedRead(ctx, s, s.attemptKey(attemptID, "review", page), strategy, func(ctx context.Context) (domain.AttemptReview, error) {
		return s.remote.GetAttemptReview(ctx, attemptID, page)
	})
	if err != nil {
		return domain.AttemptReview{}, &domain.OperationError{Op: "get attempt review", QuizID: quizID, AttemptID: attemptID, Err: err}
	}
	if s.questions == nil {
		return review, nil
	}
	kept := make([]domain.Question, 0, len(review.Questions))
	for _, q := range review.Questions {
		if s.questions.SupportsQuestionType(q.Type) {
			kept = append(kept, q)
		}
	}
	review.Questions = kept
	return review, nil
}

// SaveAttempt saves answers without changing the attempt state.
func (s *QuizService) SaveAttempt(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, answers domain.Answers, preflight domain.PreflightData, offline bool) error {
	if offline {
		return s.processOffline(ctx, quiz, attempt, answers, preflight, false)
	}
	if err := s.remote.SaveAttempt(ctx, attempt.ID, answers, preflight); err != nil {
		return &domain.OperationError{Op: "save attempt", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	s.invalidate(ctx, s.attemptKey(attempt.ID))
	return nil
}

// ProcessAttempt submits answers and optionally finishes the attempt. Offline
// it stores them locally and returns the unchanged state.
func (s *QuizService) ProcessAttempt(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, answers domain.Answers, preflight domain.PreflightData, finish, timeUp, offline bool) (domain.AttemptState, error) {
	if offline {
		if err := s.processOffline(ctx, quiz, attempt, answers, preflight, finish); err != nil {
			return attempt.State, err
		}
		return attempt.State, nil
	}
	state, err := s.remote.ProcessAttempt(ctx, attempt.ID, answers, preflight, finish, timeUp)
	if err != nil {
		return attempt.State, &domain.OperationError{Op: "process attempt", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	s.invalidate(ctx, s.attemptKey(attempt.ID))
	if finish {
		s.invalidate(ctx, s.quizKey(quiz.ID))
	}
	return state, nil
}

func (s *QuizService) processOffline(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, answers domain.Answers, preflight domain.PreflightData, finish bool) error {
	summary, err := s.GetAttemptSummary(ctx, attempt, preflight, true, ReadPreferCache)
	if err != nil {
		return &domain.OperationError{Op: "process attempt offline", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	bySlot := make(map[int]domain.Question, len(summary))
	for _, q := range summary {
		bySlot[q.Slot] = q
	}
	if err := s.offline.ProcessAttempt(ctx, quiz, attempt, bySlot, answers, finish); err != nil {
		return &domain.OperationError{Op: "process attempt offline", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	return nil
}

// ViewAttempt logs a page view. Offline only the stored current page changes.
func (s *QuizService) ViewAttempt(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData, offline bool) error {
	if offline {
		return s.offline.SetAttemptCurrentPage(ctx, attemptID, page)
	}
	return s.remote.ViewAttempt(ctx, attemptID, page, preflight)
}

// InvalidateQuiz drops every cached response of the quiz.
func (s *QuizService) InvalidateQuiz(ctx context.Context, quizID int64) {
	s.invalidate(ctx, s.quizKey(quizID))
}

// InvalidateAttempt drops every cached response of the attempt.
func (s *QuizService) InvalidateAttempt(ctx context.Context, attemptID int64) {
	s.invalidate(ctx, s.attemptKey(attemptID))
}

func (s *QuizService) invalidate(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, prefix); err != nil {
		s.session.Logger.Warn("invalidate cache", "prefix", prefix, "error", err)
	}
}
