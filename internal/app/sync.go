package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default sync throttling.
const DefaultSyncInterval = 5 * time.Minute

// Sync warnings reported to the user.
const (
	WarningAttemptFinished       = "The attempt was already finished on the server; local answers were discarded."
	WarningDataDiscarded         = "Some answers were discarded because the questions changed on the server."
	WarningDataDiscardedFinished = "Some answers were discarded because the questions changed on the server; the attempt was not finished."
)

// SyncOptions tunes the reconciler.
type SyncOptions struct {
	// MinInterval is the minimum time between automatic syncs of a quiz.
	MinInterval time.Duration
	// OnlyOnWifi skips automatic syncs on limited networks.
	OnlyOnWifi bool
	// Concurrency bounds the quizzes synced in parallel by SyncAll.
	Concurrency int
}

// Reconciler replays offline attempts against the service.
type Reconciler struct {
	session   Session
	quizzes   *QuizService
	offline   *OfflineService
	preflight *PreflightHelper
	state     SyncStateRepository
	blocker   Blocker
	network   Network
	events    *EventHub
	opts      SyncOptions

	sf      singleflight.Group
	mu      sync.Mutex
	running map[int64]chan struct{}
}

// NewReconciler builds a reconciler. events may be nil.
func NewReconciler(session Session, quizzes *QuizService, offline *OfflineService, preflight *PreflightHelper, blocker Blocker, network Network, events *EventHub, opts SyncOptions) *Reconciler {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultSyncInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if network == nil {
		network = StaticNetwork{Online: true}
	}
	session = session.withDefaults()
	return &Reconciler{
		session:   session,
		quizzes:   quizzes,
		offline:   offline,
		preflight: preflight,
		state:     session.Store,
		blocker:   blocker,
		network:   network,
		events:    events,
		opts:      opts,
		running:   make(map[int64]chan struct{}),
	}
}

// IsSyncing reports whether a sync of the quiz is in flight.
func (r *Reconciler) IsSyncing(quizID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[quizID]
	return ok
}

// WaitForSync blocks until an in-flight sync of the quiz finishes.
func (r *Reconciler) WaitForSync(ctx context.Context, quizID int64) error {
	r.mu.Lock()
	done, ok := r.running[quizID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) markRunning(quizID int64) func() {
	done := make(chan struct{})
	r.mu.Lock()
	r.running[quizID] = done
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.running, quizID)
		r.mu.Unlock()
		close(done)
	}
}

// HasDataToSync reports whether the quiz has attempts stored offline.
func (r *Reconciler) HasDataToSync(ctx context.Context, quizID int64) (bool, error) {
	attempts, err := r.offline.QuizAttempts(ctx, quizID)
	if err != nil {
		return false, err
	}
	return len(attempts) > 0, nil
}

// SyncWarnings returns the warnings stored by the last sync of the quiz.
func (r *Reconciler) SyncWarnings(ctx context.Context, quizID int64) ([]string, error) {
	return r.state.SyncWarnings(ctx, quizID)
}

// SetSyncWarnings replaces the stored warnings of the quiz, e.g. after the user saw them.
func (r *Reconciler) SetSyncWarnings(ctx context.Context, quizID int64, warnings []string) error {
	return r.state.SetSyncWarnings(ctx, quizID, warnings)
}

// SyncQuizIfNeeded syncs the quiz when the last sync is older than the minimum interval.
func (r *Reconciler) SyncQuizIfNeeded(ctx context.Context, quiz domain.Quiz, askPreflight bool) (domain.SyncResult, error) {
	last, err := r.state.SyncTime(ctx, quiz.ID)
	if err != nil {
		r.session.Logger.Warn("read sync time", "quiz_id", quiz.ID, "error", err)
	}
	if !last.IsZero() && r.session.now().Sub(last) < r.opts.MinInterval {
		return domain.SyncResult{}, nil
	}
	return r.SyncQuiz(ctx, quiz, askPreflight)
}

// SyncQuiz replays the offline attempt of the quiz. Concurrent calls for the
// same quiz share one run.
func (r *Reconciler) SyncQuiz(ctx context.Context, quiz domain.Quiz, askPreflight bool) (domain.SyncResult, error) {
	v, err, _ := r.sf.Do(strconv.FormatInt(quiz.ID, 10), func() (interface{}, error) {
		done := r.markRunning(quiz.ID)
		defer done()
		return r.syncQuiz(ctx, quiz, askPreflight)
	})
	result, _ := v.(domain.SyncResult)
	return result, err
}

func (r *Reconciler) syncQuiz(ctx context.Context, quiz domain.Quiz, askPreflight bool) (domain.SyncResult, error) {
	var result domain.SyncResult
	fail := func(err error) (domain.SyncResult, error) {
		return result, &domain.OperationError{Op: "sync quiz", QuizID: quiz.ID, Err: err}
	}

	blocked, err := r.blocker.IsBlocked(ctx, quiz.ID)
	if err != nil {
		return fail(err)
	}
	if blocked {
		return fail(domain.ErrQuizBlocked)
	}
	if !r.network.IsOnline() {
		return fail(domain.ErrOffline)
	}

	attempts, err := r.offline.QuizAttempts(ctx, quiz.ID)
	if err != nil {
		r.session.Logger.Warn("read offline attempts, trusting server", "quiz_id", quiz.ID, "error", err)
		attempts = nil
	}
	if len(attempts) == 0 {
		return r.finishSync(ctx, quiz, result, 0)
	}
	offlineAttempt := attempts[len(attempts)-1]
	r.session.Logger.Info("syncing offline attempt", "quiz_id", quiz.ID, "attempt_id", offlineAttempt.ID, "finished", offlineAttempt.Finished)

	online, err := r.quizzes.GetUserAttempts(ctx, quiz.ID, ReadOnlyNetwork)
	if err != nil {
		return fail(err)
	}
	var onlineAttempt *domain.Attempt
	for i := range online {
		if online[i].ID == offlineAttempt.ID {
			onlineAttempt = &online[i]
			break
		}
	}
	if onlineAttempt == nil || onlineAttempt.State.IsCompleted() {
		// The server result is newer; never replay over it.
		result.Warnings = append(result.Warnings, WarningAttemptFinished)
		result.Updated = true
		return r.finishSync(ctx, quiz, result, offlineAttempt.ID)
	}

	answers, err := r.offline.AttemptAnswers(ctx, offlineAttempt.ID)
	if err != nil {
		r.session.Logger.Warn("read offline answers, trusting server", "attempt_id", offlineAttempt.ID, "error", err)
		answers = nil
	}
	if len(answers) == 0 {
		result.Updated = true
		return r.finishSync(ctx, quiz, result, offlineAttempt.ID)
	}
	slots := domain.ClassifyAnswers(answers)

	access, err := r.quizzes.GetQuizAccessInformation(ctx, quiz.ID, ReadOnlyNetwork)
	if err != nil {
		return fail(err)
	}
	preflight, _, err := r.preflight.GetPreflightData(ctx, quiz, access.ActiveRuleNames, domain.PreflightData{}, onlineAttempt, false, askPreflight, nil)
	if err != nil {
		return fail(err)
	}

	pages := domain.PagesFromLayoutAndQuestions(onlineAttempt.Layout, slots)
	onlineQuestions, err := r.quizzes.GetAllQuestionsData(ctx, *onlineAttempt, preflight, pages, ReadOnlyNetwork)
	if err != nil {
		return fail(err)
	}
	discarded, err := r.validateQuestions(ctx, offlineAttempt.ID, slots, onlineQuestions)
	if err != nil {
		return fail(err)
	}
	if discarded {
		if offlineAttempt.Finished {
			result.Warnings = append(result.Warnings, WarningDataDiscardedFinished)
		} else {
			result.Warnings = append(result.Warnings, WarningDataDiscarded)
		}
	}

	finish := offlineAttempt.Finished && !discarded
	err = withSequenceRepair(ctx,
		func(ctx context.Context) error {
			_, err := r.quizzes.ProcessAttempt(ctx, quiz, *onlineAttempt, domain.ExtractAnswers(slots), preflight, finish, false, false)
			return err
		},
		func(ctx context.Context) error {
			r.quizzes.InvalidateAttempt(ctx, onlineAttempt.ID)
			fresh, err := r.quizzes.GetAllQuestionsData(ctx, *onlineAttempt, preflight, pages, ReadOnlyNetwork)
			if err != nil {
				return err
			}
			for slot, entry := range slots {
				if q, ok := fresh[slot]; ok {
					entry.Answers[domain.SequenceCheckField] = q.SequenceCheck
				}
			}
			return nil
		},
	)
	if err != nil {
		// The offline record stays so nothing is lost.
		return fail(err)
	}

	result.Updated = true
	result.AttemptFinished = finish
	return r.finishSync(ctx, quiz, result, offlineAttempt.ID)
}

// validateQuestions drops offline answers whose questions changed on the
// server and refreshes the sequence check of the rest. It reports whether
// anything was dropped.
func (r *Reconciler) validateQuestions(ctx context.Context, attemptID int64, slots map[int]*domain.SlotAnswers, online map[int]domain.Question) (bool, error) {
	ordered := make([]int, 0, len(slots))
	for slot := range slots {
		ordered = append(ordered, slot)
	}
	sort.Ints(ordered)

	discarded := false
	for _, slot := range ordered {
		entry := slots[slot]
		q, ok := online[slot]
		if !ok {
			return false, fmt.Errorf("%w: slot %d", domain.ErrQuestionNotFound, slot)
		}
		if check, has := entry.Answers[domain.SequenceCheckField]; has && check != q.SequenceCheck {
			discarded = true
			if err := r.offline.RemoveQuestionAndAnswers(ctx, attemptID, slot); err != nil {
				return false, err
			}
			delete(slots, slot)
			continue
		}
		entry.Answers[domain.SequenceCheckField] = q.SequenceCheck
	}
	return discarded, nil
}

func (r *Reconciler) finishSync(ctx context.Context, quiz domain.Quiz, result domain.SyncResult, removeAttemptID int64) (domain.SyncResult, error) {
	if removeAttemptID != 0 {
		if err := r.offline.RemoveAttemptAndAnswers(ctx, removeAttemptID); err != nil {
			return result, &domain.OperationError{Op: "sync quiz", QuizID: quiz.ID, AttemptID: removeAttemptID, Err: err}
		}
	}
	if result.Updated {
		r.quizzes.InvalidateQuiz(ctx, quiz.ID)
		r.events.Publish(Event{
			Type:            EventSyncCompleted,
			QuizID:          quiz.ID,
			AttemptID:       removeAttemptID,
			AttemptFinished: result.AttemptFinished,
			Warnings:        result.Warnings,
		})
	}
	if err := r.state.SetSyncTime(ctx, quiz.ID, r.session.now()); err != nil {
		r.session.Logger.Warn("store sync time", "quiz_id", quiz.ID, "error", err)
	}
	if len(result.Warnings) > 0 {
		if err := r.state.SetSyncWarnings(ctx, quiz.ID, result.Warnings); err != nil {
			r.session.Logger.Warn("store sync warnings", "quiz_id", quiz.ID, "error", err)
		}
	}
	r.session.Logger.Info("quiz synced", "quiz_id", quiz.ID, "updated", result.Updated, "attempt_finished", result.AttemptFinished, "warnings", len(result.Warnings))
	return result, nil
}

// SyncAll syncs every quiz with offline attempts, skipping the blocked ones.
// With force unset, quizzes synced within the minimum interval are skipped.
func (r *Reconciler) SyncAll(ctx context.Context, force bool) error {
	if !r.network.IsOnline() {
		return domain.ErrOffline
	}
	if !force && r.opts.OnlyOnWifi && r.network.IsNetworkAccessLimited() {
		return domain.ErrNetworkLimited
	}

	attempts, err := r.offline.AllAttempts(ctx)
	if err != nil {
		return fmt.Errorf("list offline attempts: %w", err)
	}
	courses := make(map[int64]int64)
	for _, a := range attempts {
		if a.UserID == r.session.UserID {
			courses[a.QuizID] = a.CourseID
		}
	}
	quizIDs := make([]int64, 0, len(courses))
	for id := range courses {
		quizIDs = append(quizIDs, id)
	}
	sort.Slice(quizIDs, func(i, j int) bool { return quizIDs[i] < quizIDs[j] })

	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, quizID := range quizIDs {
		quizID := quizID
		g.Go(func() error {
			if err := r.syncOne(ctx, courses[quizID], quizID, force); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Reconciler) syncOne(ctx context.Context, courseID, quizID int64, force bool) error {
	if blocked, err := r.blocker.IsBlocked(ctx, quizID); err == nil && blocked {
		r.session.Logger.Debug("quiz being played, sync skipped", "quiz_id", quizID)
		return nil
	}
	quiz, err := r.quizzes.GetQuiz(ctx, courseID, quizID, ReadPreferCache)
	if err != nil {
		return &domain.OperationError{Op: "sync quiz", QuizID: quizID, Err: err}
	}

	var result domain.SyncResult
	if force {
		result, err = r.SyncQuiz(ctx, quiz, false)
	} else {
		result, err = r.SyncQuizIfNeeded(ctx, quiz, false)
	}
	if errors.Is(err, domain.ErrQuizBlocked) {
		return nil
	}
	if err != nil {
		if serr := r.state.SetSyncWarnings(ctx, quizID, []string{err.Error()}); serr != nil {
			r.session.Logger.Warn("store sync warnings", "quiz_id", quizID, "error", serr)
		}
		return err
	}
	if result.Updated {
		r.session.Logger.Debug("quiz updated by sync", "quiz_id", quizID, "warnings", len(result.Warnings))
	}
	return nil
}
