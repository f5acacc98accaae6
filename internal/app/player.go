package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quiz-attempt-engine/internal/accessrule"
	"quiz-attempt-engine/internal/clock"
	"quiz-attempt-engine/internal/domain"
)

// SummaryPage is the page number that shows the attempt summary.
const SummaryPage = -1

const confirmFinishMessage = "Once you submit, you will no longer be able to change your answers for this attempt."

// PlayerUI is the page the player drives. Callbacks must not call back into
// the Player operations; View is safe.
type PlayerUI interface {
	// Answers returns the answers currently entered, keyed by prefixed field name.
	Answers() domain.Answers
	// Confirm asks the user to confirm an action. It returns domain.ErrCanceled when declined.
	Confirm(ctx context.Context, message string) error
	// SequenceChecksUpdated delivers fresh sequence check tokens by slot.
	SequenceChecksUpdated(checks map[int]string)
}

// SyncWaiter waits for an in-flight sync of a quiz.
type SyncWaiter interface {
	WaitForSync(ctx context.Context, quizID int64) error
}

// Summary is the attempt summary shown before finishing.
type Summary struct {
	Questions             []domain.Question
	CanReturn             bool
	PreventSubmitMessages []string
	DueDateWarning        string
}

// NavigationEntry is one question in the attempt navigation.
type NavigationEntry struct {
	domain.Question
	Class string
}

// PlayerView is a snapshot of what the player shows.
type PlayerView struct {
	Quiz         domain.Quiz
	Attempt      domain.Attempt
	Offline      bool
	Questions    []domain.Question
	NextPage     int
	PreviousPage int
	ShowSummary  bool
	Summary      Summary
	// EndTime is set when the remaining time must be displayed.
	EndTime  time.Time
	Finished bool
}

// PlayerDeps are the collaborators of a Player.
type PlayerDeps struct {
	Quizzes   *QuizService
	Offline   *OfflineService
	Preflight *PreflightHelper
	Gate      *accessrule.Gate
	Questions QuestionSupport
	Sync      SyncWaiter
	Blocker   Blocker
	Events    *EventHub
	AutoSave  AutoSaveOptions

	// BlockRefresh is how often the quiz block is refreshed while the
	// player is open. Zero disables refreshing.
	BlockRefresh time.Duration
}

// Player drives one attempt from start or resume to finish.
type Player struct {
	session   Session
	quizzes   *QuizService
	offline   *OfflineService
	preflight *PreflightHelper
	gate      *accessrule.Gate
	questions QuestionSupport
	sync      SyncWaiter
	blocker   Blocker
	events    *EventHub
	ui        PlayerUI
	autosave  *AutoSave

	blockRefresh time.Duration

	// opMu serializes operations; mu guards the fields below.
	opMu          sync.Mutex
	mu            sync.Mutex
	bg            context.Context
	view          PlayerView
	access        domain.QuizAccessInfo
	attemptAccess domain.AttemptAccessInfo
	preflightData domain.PreflightData
	seqChecks     map[int]string
	blockedQuiz   int64
	refreshTimer  clock.Timer
	timer         clock.Timer

	timeUpCalled atomic.Bool
}

// NewPlayer builds a player for one site user.
func NewPlayer(session Session, deps PlayerDeps, ui PlayerUI) *Player {
	session = session.withDefaults()
	p := &Player{
		session:       session,
		quizzes:       deps.Quizzes,
		offline:       deps.Offline,
		preflight:     deps.Preflight,
		gate:          deps.Gate,
		questions:     deps.Questions,
		sync:          deps.Sync,
		blocker:       deps.Blocker,
		events:        deps.Events,
		ui:            ui,
		blockRefresh:  deps.BlockRefresh,
		bg:            context.Background(),
		preflightData: domain.PreflightData{},
	}
	p.autosave = NewAutoSave(session, deps.Quizzes, p.pageAnswers, deps.Events, deps.AutoSave)
	return p
}

// View returns a snapshot of the player state.
func (p *Player) View() PlayerView {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.view
	v.Questions = append([]domain.Question(nil), v.Questions...)
	v.Summary.Questions = append([]domain.Question(nil), v.Summary.Questions...)
	return v
}

// AutoSave exposes the autosave watcher of the current page.
func (p *Player) AutoSave() *AutoSave {
	return p.autosave
}

func (p *Player) snapshot() (PlayerView, domain.PreflightData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view, p.preflightData.Clone()
}

func (p *Player) strategy(offline bool) ReadStrategy {
	if offline {
		return ReadPreferCache
	}
	return ReadOnlyNetwork
}

// Open blocks the quiz for sync, loads its data and starts or continues the
// user's attempt.
func (p *Player) Open(ctx context.Context, courseID, quizID int64) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.bg = context.WithoutCancel(ctx)
	p.mu.Unlock()

	if err := p.blocker.Block(ctx, quizID); err != nil {
		return &domain.OperationError{Op: "open quiz", QuizID: quizID, Err: err}
	}
	p.mu.Lock()
	p.blockedQuiz = quizID
	p.mu.Unlock()
	p.scheduleBlockRefresh()

	if p.sync != nil {
		if err := p.sync.WaitForSync(ctx, quizID); err != nil {
			return err
		}
	}

	quiz, err := p.quizzes.GetQuiz(ctx, courseID, quizID, ReadPreferCache)
	if err != nil {
		return &domain.OperationError{Op: "open quiz", QuizID: quizID, Err: err}
	}

	offline := domain.IsQuizOffline(quiz)
	if !offline {
		// Offline attempts may have been disabled after one was started.
		offline, err = p.offline.IsLastAttemptOfflineUnfinished(ctx, quiz)
		if err != nil {
			p.session.Logger.Warn("read offline attempts", "quiz_id", quiz.ID, "error", err)
			offline = false
		}
	}
	strategy := p.strategy(offline)

	access, err := p.quizzes.GetQuizAccessInformation(ctx, quiz.ID, strategy)
	if err != nil {
		return &domain.OperationError{Op: "open quiz", QuizID: quiz.ID, Err: err}
	}
	attempts, err := p.quizzes.GetUserAttempts(ctx, quiz.ID, strategy)
	if err != nil {
		return &domain.OperationError{Op: "open quiz", QuizID: quiz.ID, Err: err}
	}
	if p.questions != nil {
		qtypes, err := p.quizzes.GetQuizRequiredQtypes(ctx, quiz.ID, strategy)
		if err != nil {
			return &domain.OperationError{Op: "open quiz", QuizID: quiz.ID, Err: err}
		}
		if unsupported := p.questions.UnsupportedQuestionTypes(qtypes); len(unsupported) > 0 {
			return &domain.UnsupportedError{Kind: "question types", Names: unsupported}
		}
	}

	var last *domain.Attempt
	if n := len(attempts); n > 0 && !attempts[n-1].State.IsCompleted() {
		a := attempts[n-1]
		last = &a
	}

	p.mu.Lock()
	p.view = PlayerView{Quiz: quiz, Offline: offline}
	p.access = access
	p.mu.Unlock()
	p.session.Logger.Info("quiz opened", "quiz_id", quiz.ID, "offline", offline, "new_attempt", last == nil)

	return p.startOrContinue(ctx, last)
}

func (p *Player) startOrContinue(ctx context.Context, last *domain.Attempt) error {
	view, preflight := p.snapshot()
	quiz := view.Quiz
	p.mu.Lock()
	access := p.access
	p.mu.Unlock()

	attempt, data, err := p.preflight.GetAndCheckPreflightData(ctx, quiz, access, preflight, last, view.Offline, false)
	if err != nil {
		return err
	}
	info, err := p.quizzes.GetAttemptAccessInformation(ctx, quiz.ID, attempt.ID, p.strategy(view.Offline))
	if err != nil {
		return &domain.OperationError{Op: "start attempt", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}

	p.mu.Lock()
	p.view.Attempt = attempt
	p.preflightData = data
	p.attemptAccess = info
	p.mu.Unlock()

	if attempt.State != domain.StateOverdue && !attempt.FinishedOffline {
		if err := p.loadPage(ctx, attempt.CurrentPage); err != nil {
			return err
		}
		p.initTimer()
		return nil
	}
	// Overdue or finished offline attempts only show the summary.
	return p.loadSummary(ctx)
}

// LoadPage loads a page of the attempt.
func (p *Player) LoadPage(ctx context.Context, page int) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.loadPage(ctx, page)
}

func (p *Player) loadPage(ctx context.Context, page int) error {
	view, preflight := p.snapshot()
	quiz, attempt := view.Quiz, view.Attempt
	if attempt.State != domain.StateInProgress || attempt.FinishedOffline {
		return domain.ErrPageUnavailable
	}
	if quiz.Sequential() && page < attempt.CurrentPage {
		return domain.ErrNavigationNotAllowed
	}

	data, err := p.quizzes.GetAttemptData(ctx, attempt.ID, page, preflight, p.strategy(view.Offline))
	if err != nil {
		return &domain.OperationError{Op: "load page", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	questions := data.Questions
	if view.Offline {
		if questions, err = p.offline.LoadQuestionsLocalStates(ctx, attempt.ID, questions); err != nil {
			p.session.Logger.Warn("overlay local states", "attempt_id", attempt.ID, "error", err)
		}
		if questions, err = p.offline.LoadQuestionsLocalAnswers(ctx, attempt.ID, questions); err != nil {
			p.session.Logger.Warn("overlay local answers", "attempt_id", attempt.ID, "error", err)
		}
	}

	decimals := domain.GradeDecimals(quiz)
	for i := range questions {
		questions[i].ReadableMark = domain.ReadableMark(questions[i], decimals)
		if questions[i].BlockedByPrevious {
			questions[i].Type = "description"
		}
	}

	updated := attempt
	if data.Attempt.ID == attempt.ID {
		updated = data.Attempt
		updated.FinishedOffline = attempt.FinishedOffline
	}
	updated.CurrentPage = page
	previous := page - 1
	if quiz.Sequential() {
		previous = -1
	}

	p.mu.Lock()
	p.view.Attempt = updated
	p.view.Questions = questions
	p.view.NextPage = data.NextPage
	p.view.PreviousPage = previous
	p.view.ShowSummary = false
	p.seqChecks = nil
	bg := p.bg
	p.mu.Unlock()

	if err := p.quizzes.ViewAttempt(ctx, attempt.ID, page, preflight, view.Offline); err != nil {
		p.session.Logger.Debug("log attempt view", "attempt_id", attempt.ID, "page", page, "error", err)
	}
	p.autosave.StartCheckChanges(bg, quiz, updated, preflight, view.Offline)
	return nil
}

// ChangePage submits the answers of the current page and loads another page,
// or the summary for SummaryPage.
func (p *Player) ChangePage(ctx context.Context, page int) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	view, preflight := p.snapshot()
	attempt := view.Attempt
	switch {
	case page != SummaryPage && (attempt.State == domain.StateOverdue || attempt.FinishedOffline):
		return domain.ErrPageUnavailable
	case page == SummaryPage && view.ShowSummary:
		return nil
	case page == attempt.CurrentPage && !view.ShowSummary:
		return nil
	}

	if !view.ShowSummary {
		if err := p.processAttempt(ctx, false, false); err != nil {
			return err
		}
	}
	p.autosave.StopCheckChanges()

	var err error
	if page == SummaryPage {
		err = p.loadSummary(ctx)
	} else {
		err = p.loadPage(ctx, page)
	}
	if err != nil {
		current, _ := p.snapshot()
		if !current.ShowSummary {
			p.mu.Lock()
			bg := p.bg
			p.mu.Unlock()
			p.autosave.StartCheckChanges(bg, current.Quiz, current.Attempt, preflight, current.Offline)
		}
	}
	return err
}

// LoadSummary shows the attempt summary.
func (p *Player) LoadSummary(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.loadSummary(ctx)
}

func (p *Player) loadSummary(ctx context.Context) error {
	view, preflight := p.snapshot()
	quiz, attempt := view.Quiz, view.Attempt

	questions, err := p.quizzes.GetAttemptSummary(ctx, attempt, preflight, view.Offline, p.strategy(view.Offline))
	if err != nil {
		return &domain.OperationError{Op: "load summary", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
	}
	summary := Summary{
		Questions:             questions,
		CanReturn:             attempt.State == domain.StateInProgress && !attempt.FinishedOffline,
		PreventSubmitMessages: p.preventSubmitMessages(questions),
		DueDateWarning:        domain.AttemptDueDateWarning(quiz, attempt),
	}

	p.mu.Lock()
	p.view.ShowSummary = true
	p.view.Summary = summary
	p.mu.Unlock()
	return nil
}

func (p *Player) preventSubmitMessages(questions []domain.Question) []string {
	if p.questions == nil {
		return nil
	}
	var messages []string
	for _, q := range questions {
		if q.Type != "random" && !p.questions.SupportsQuestionType(q.Type) {
			messages = append(messages, fmt.Sprintf("Question %d: question type %q is not supported", q.Slot, q.Type))
		}
	}
	return messages
}

// Navigation lists every question of the attempt with its state class.
func (p *Player) Navigation(ctx context.Context) ([]NavigationEntry, error) {
	view, preflight := p.snapshot()
	questions, err := p.quizzes.GetAttemptSummary(ctx, view.Attempt, preflight, view.Offline, p.strategy(view.Offline))
	if err != nil {
		return nil, &domain.OperationError{Op: "load navigation", QuizID: view.Quiz.ID, AttemptID: view.Attempt.ID, Err: err}
	}
	entries := make([]NavigationEntry, 0, len(questions))
	for _, q := range questions {
		entries = append(entries, NavigationEntry{Question: q, Class: domain.LookupQuestionState(q.State).Class})
	}
	return entries, nil
}

// Finish finishes the attempt. The user is asked to confirm unless the time is up.
func (p *Player) Finish(ctx context.Context, userFinish, timeUp bool) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.finish(ctx, userFinish, timeUp)
}

func (p *Player) finish(ctx context.Context, userFinish, timeUp bool) error {
	view, _ := p.snapshot()
	if !timeUp && view.Attempt.State == domain.StateInProgress {
		if err := p.ui.Confirm(ctx, confirmFinishMessage); err != nil {
			return err
		}
	}
	if err := p.processAttempt(ctx, userFinish, timeUp); err != nil {
		return err
	}

	p.autosave.StopCheckChanges()
	p.stopTimer()
	p.mu.Lock()
	p.view.Finished = true
	attempt := p.view.Attempt
	p.mu.Unlock()

	p.events.Publish(Event{
		Type:      EventAttemptFinished,
		QuizID:    view.Quiz.ID,
		AttemptID: attempt.ID,
		Synced:    !view.Offline,
	})
	p.session.Logger.Info("attempt finished", "quiz_id", view.Quiz.ID, "attempt_id", attempt.ID, "offline", view.Offline, "time_up", timeUp)
	return nil
}

// TimeUp finishes the attempt because its time ran out. Only the first call acts.
func (p *Player) TimeUp(ctx context.Context) error {
	if !p.timeUpCalled.CompareAndSwap(false, true) {
		return nil
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.finish(ctx, false, true)
}

// pageAnswers returns the UI answers with repaired sequence checks applied.
func (p *Player) pageAnswers() domain.Answers {
	answers := p.ui.Answers().Clone()
	if answers == nil {
		answers = domain.Answers{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	shown := p.view.Questions
	if p.view.ShowSummary {
		shown = p.view.Summary.Questions
	}
	for _, q := range shown {
		check, ok := p.seqChecks[q.Slot]
		if !ok {
			continue
		}
		if _, has := answers[q.SequenceCheckName()]; has {
			answers[q.SequenceCheckName()] = check
		}
	}
	return answers
}

func (p *Player) processAttempt(ctx context.Context, finish, timeUp bool) error {
	view, preflight := p.snapshot()
	quiz, attempt := view.Quiz, view.Attempt

	var state domain.AttemptState
	err := withSequenceRepair(ctx,
		func(ctx context.Context) error {
			var err error
			state, err = p.quizzes.ProcessAttempt(ctx, quiz, attempt, p.pageAnswers(), preflight, finish, timeUp, view.Offline)
			return err
		},
		func(ctx context.Context) error {
			return p.fixSequenceChecks(ctx, attempt, preflight, view.ShowSummary)
		},
	)
	if err != nil {
		return err
	}

	next := attempt
	switch {
	case view.Offline && finish:
		next.FinishedOffline = true
	case state != "" && state != attempt.State:
		moved, err := domain.Transition(attempt.State, state)
		if err != nil {
			return &domain.OperationError{Op: "process attempt", QuizID: quiz.ID, AttemptID: attempt.ID, Err: err}
		}
		next.State = moved
	}

	p.mu.Lock()
	p.view.Attempt = next
	p.mu.Unlock()

	p.autosave.CancelAutoSave()
	p.autosave.HideError()
	return nil
}

// fixSequenceChecks re-fetches the tokens of the questions shown: the current
// page, or every page when the summary is shown.
func (p *Player) fixSequenceChecks(ctx context.Context, attempt domain.Attempt, preflight domain.PreflightData, summary bool) error {
	checks := make(map[int]string)
	if summary {
		questions, err := p.quizzes.GetAllQuestionsData(ctx, attempt, preflight, nil, ReadOnlyNetwork)
		if err != nil {
			return err
		}
		for slot, q := range questions {
			checks[slot] = q.SequenceCheck
		}
	} else {
		data, err := p.quizzes.GetAttemptData(ctx, attempt.ID, attempt.CurrentPage, preflight, ReadOnlyNetwork)
		if err != nil {
			return err
		}
		for _, q := range data.Questions {
			checks[q.Slot] = q.SequenceCheck
		}
	}

	p.mu.Lock()
	if p.seqChecks == nil {
		p.seqChecks = make(map[int]string, len(checks))
	}
	for slot, check := range checks {
		p.seqChecks[slot] = check
	}
	for i := range p.view.Questions {
		if check, ok := checks[p.view.Questions[i].Slot]; ok {
			p.view.Questions[i].SequenceCheck = check
		}
	}
	for i := range p.view.Summary.Questions {
		if check, ok := checks[p.view.Summary.Questions[i].Slot]; ok {
			p.view.Summary.Questions[i].SequenceCheck = check
		}
	}
	p.mu.Unlock()

	p.session.Logger.Info("sequence checks refreshed", "attempt_id", attempt.ID, "questions", len(checks))
	p.ui.SequenceChecksUpdated(checks)
	return nil
}

func (p *Player) initTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := p.attemptAccess.EndTime
	if end.IsZero() {
		return
	}
	now := p.session.now()
	if p.gate == nil || !p.gate.ShouldShowTimeLeft(p.access.ActiveRuleNames, p.view.Attempt, end, now) {
		p.view.EndTime = time.Time{}
		return
	}
	p.view.EndTime = end
	if p.timer != nil {
		p.timer.Stop()
	}
	bg, quizID := p.bg, p.view.Quiz.ID
	p.timer = p.session.Clock.AfterFunc(end.Sub(now), func() {
		if err := p.TimeUp(bg); err != nil {
			p.session.Logger.Error("finish attempt on time up", "quiz_id", quizID, "error", err)
		}
	})
}

// scheduleBlockRefresh keeps the quiz block alive until Close.
func (p *Player) scheduleBlockRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	if p.blockRefresh <= 0 || p.blockedQuiz == 0 {
		return
	}
	bg, quizID := p.bg, p.blockedQuiz
	p.refreshTimer = p.session.Clock.AfterFunc(p.blockRefresh, func() {
		if err := p.blocker.Refresh(bg, quizID); err != nil {
			p.session.Logger.Warn("refresh quiz block", "quiz_id", quizID, "error", err)
		}
		p.scheduleBlockRefresh()
	})
}

func (p *Player) stopTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Close leaves the player: change detection and pending saves stop, the
// quiz is unblocked for sync. A save already running completes.
func (p *Player) Close(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.autosave.StopCheckChanges()
	p.stopTimer()

	p.mu.Lock()
	quizID := p.blockedQuiz
	p.blockedQuiz = 0
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	p.mu.Unlock()
	if quizID == 0 {
		return nil
	}
	if err := p.blocker.Unblock(ctx, quizID); err != nil {
		return &domain.OperationError{Op: "close quiz", QuizID: quizID, Err: err}
	}
	return nil
}
