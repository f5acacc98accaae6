package app

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-engine/internal/clock"
	"quiz-attempt-engine/internal/domain"
)

// Default autosave timings.
const (
	DefaultCheckChangesInterval = 5 * time.Second
	DefaultSeedDelay            = 2500 * time.Millisecond
)

// AttemptSaver saves answers without changing the attempt state.
type AttemptSaver interface {
	SaveAttempt(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, answers domain.Answers, preflight domain.PreflightData, offline bool) error
}

// AnswersSource returns the answers currently entered on the page.
type AnswersSource func() domain.Answers

// AutoSaveOptions tunes the change detection timers.
type AutoSaveOptions struct {
	CheckInterval time.Duration
	SeedDelay     time.Duration
}

type autoSaveTarget struct {
	quiz      domain.Quiz
	attempt   domain.Attempt
	preflight domain.PreflightData
	offline   bool
}

// AutoSave watches the page answers and saves them after they change.
type AutoSave struct {
	session Session
	saver   AttemptSaver
	answers AnswersSource
	events  *EventHub
	opts    AutoSaveOptions

	mu         sync.Mutex
	ctx        context.Context
	target     autoSaveTarget
	checking   bool
	seedTimer  clock.Timer
	checkTimer clock.Timer
	saveTimer  clock.Timer
	// Generations invalidate callbacks of stopped timers that already started running.
	checkGen  uint64
	saveGen   uint64
	previous  domain.Answers
	hasPrev   bool
	showError bool
}

// NewAutoSave builds an autosave watcher. events may be nil.
func NewAutoSave(session Session, saver AttemptSaver, answers AnswersSource, events *EventHub, opts AutoSaveOptions) *AutoSave {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckChangesInterval
	}
	if opts.SeedDelay <= 0 {
		opts.SeedDelay = DefaultSeedDelay
	}
	return &AutoSave{
		session: session.withDefaults(),
		saver:   saver,
		answers: answers,
		events:  events,
		opts:    opts,
	}
}

// StartCheckChanges begins watching the page. It is a no-op when already
// watching or when the quiz has no autosave period. ctx is used for saves.
func (a *AutoSave) StartCheckChanges(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, preflight domain.PreflightData, offline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checking || quiz.AutosavePeriod <= 0 {
		return
	}
	a.ctx = ctx
	a.target = autoSaveTarget{quiz: quiz, attempt: attempt, preflight: preflight.Clone(), offline: offline}
	a.checking = true
	a.hasPrev = false
	a.previous = nil
	gen := a.checkGen

	a.seedTimer = a.session.Clock.AfterFunc(a.opts.SeedDelay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.checkGen || !a.checking {
			return
		}
		a.seedTimer = nil
		a.previous = a.answers()
		a.hasPrev = true
	})
	a.scheduleCheckLocked(gen)
}

func (a *AutoSave) scheduleCheckLocked(gen uint64) {
	a.checkTimer = a.session.Clock.AfterFunc(a.opts.CheckInterval, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.checkGen || !a.checking {
			return
		}
		a.checkChangesLocked()
		a.scheduleCheckLocked(gen)
	})
}

// CheckChanges compares the page answers with the last snapshot and schedules
// a save when they differ.
func (a *AutoSave) CheckChanges() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkChangesLocked()
}

func (a *AutoSave) checkChangesLocked() {
	if a.saveTimer != nil {
		return
	}
	current := a.answers()
	if !a.hasPrev {
		a.previous = current
		a.hasPrev = true
		return
	}
	if domain.AnswersChanged(a.previous, current) {
		a.setAutoSaveTimerLocked()
	}
	a.previous = current
}

// ScheduleSave schedules a save unless one is pending or the attempt is nearly over.
func (a *AutoSave) ScheduleSave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setAutoSaveTimerLocked()
}

func (a *AutoSave) setAutoSaveTimerLocked() {
	t := a.target
	if a.saveTimer != nil || t.quiz.AutosavePeriod <= 0 {
		return
	}
	if domain.IsAttemptTimeNearlyOver(t.quiz, t.attempt, a.session.now()) {
		return
	}
	gen := a.saveGen
	a.saveTimer = a.session.Clock.AfterFunc(t.quiz.AutosavePeriod, func() {
		a.fireSave(gen)
	})
}

func (a *AutoSave) fireSave(gen uint64) {
	a.mu.Lock()
	if gen != a.saveGen {
		a.mu.Unlock()
		return
	}
	answers := a.answers()
	// Clear the pending marker before the call so a failure cannot block later saves.
	a.saveTimer = nil
	a.previous = answers
	a.hasPrev = true
	t := a.target
	ctx := a.ctx
	a.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	err := a.saver.SaveAttempt(ctx, t.quiz, t.attempt, answers, t.preflight, t.offline)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		a.setErrorLocked(false)
		return
	}
	a.session.Logger.Warn("autosave failed", "quiz_id", t.quiz.ID, "attempt_id", t.attempt.ID, "error", err)
	a.setErrorLocked(true)
	if gen == a.saveGen {
		a.setAutoSaveTimerLocked()
	}
}

// CancelAutoSave cancels a pending save. A save already running completes.
func (a *AutoSave) CancelAutoSave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelSaveLocked()
}

func (a *AutoSave) cancelSaveLocked() {
	if a.saveTimer != nil {
		a.saveTimer.Stop()
		a.saveTimer = nil
	}
	a.saveGen++
}

// StopCheckChanges stops watching the page and cancels any pending save.
func (a *AutoSave) StopCheckChanges() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seedTimer != nil {
		a.seedTimer.Stop()
		a.seedTimer = nil
	}
	if a.checkTimer != nil {
		a.checkTimer.Stop()
		a.checkTimer = nil
	}
	a.cancelSaveLocked()
	a.checkGen++
	a.checking = false
	a.hasPrev = false
	a.previous = nil
}

// HasPendingSave reports whether a save is scheduled.
func (a *AutoSave) HasPendingSave() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveTimer != nil
}

// HasError reports whether the last save failed.
func (a *AutoSave) HasError() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.showError
}

// HideError clears the error indicator, e.g. after a successful manual save.
func (a *AutoSave) HideError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setErrorLocked(false)
}

func (a *AutoSave) setErrorLocked(show bool) {
	if a.showError == show {
		return
	}
	a.showError = show
	a.events.Publish(Event{
		Type:          EventAutosaveError,
		QuizID:        a.target.quiz.ID,
		AttemptID:     a.target.attempt.ID,
		AutosaveError: show,
	})
}
