package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"quiz-attempt-engine/internal/accessrule"
	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/behaviour"
	"quiz-attempt-engine/internal/clock"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
)

var testStart = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

const (
	testUserID   = 2
	testCourseID = 10
	testQuizID   = 3
	testAttempt  = 100
)

var errNetwork = errors.New("network down")

func seqError() error {
	return &domain.WSError{Exception: "moodle_exception", ErrorCode: domain.SequenceCheckErrorCode, Message: "out of sequence"}
}

type processCall struct {
	AttemptID int64
	Answers   domain.Answers
	Finish    bool
	TimeUp    bool
}

type fakeRemote struct {
	mu sync.Mutex

	quiz          domain.Quiz
	access        domain.QuizAccessInfo
	attemptAccess domain.AttemptAccessInfo
	qtypes        []string
	attempts      []domain.Attempt
	pages         map[int]domain.AttemptPage
	summary       []domain.Question

	password     string
	startErr     error
	startCalls   int
	dataCalls    int
	processErrs  []error
	processCalls []processCall
	saveErrs     []error
	saveCalls    []domain.Answers
	views        []int
	attemptsErr  error
	dataHook     func(call int) // runs before page data is returned
}

func newFakeRemote(quiz domain.Quiz) *fakeRemote {
	return &fakeRemote{
		quiz:   quiz,
		access: domain.QuizAccessInfo{CanAttempt: true},
		pages:  make(map[int]domain.AttemptPage),
	}
}

func (f *fakeRemote) GetQuiz(_ context.Context, _, quizID int64) (domain.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quizID != f.quiz.ID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return f.quiz, nil
}

func (f *fakeRemote) GetQuizAccessInformation(context.Context, int64) (domain.QuizAccessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, nil
}

func (f *fakeRemote) GetAttemptAccessInformation(context.Context, int64, int64) (domain.AttemptAccessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attemptAccess, nil
}

func (f *fakeRemote) GetQuizRequiredQtypes(context.Context, int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qtypes, nil
}

func (f *fakeRemote) GetUserAttempts(context.Context, int64, int64) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attemptsErr != nil {
		return nil, f.attemptsErr
	}
	return append([]domain.Attempt(nil), f.attempts...), nil
}

func (f *fakeRemote) StartAttempt(_ context.Context, quizID int64, preflight domain.PreflightData, _ bool) (domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return domain.Attempt{}, f.startErr
	}
	if f.password != "" && preflight[accessrule.FieldPassword] != f.password {
		return domain.Attempt{}, &domain.WSError{Exception: "moodle_exception", ErrorCode: "passworderror", Message: "wrong password"}
	}
	a := domain.Attempt{
		ID:        testAttempt + int64(len(f.attempts)),
		QuizID:    quizID,
		UserID:    testUserID,
		Number:    len(f.attempts) + 1,
		Layout:    "1,2,0,3,0",
		State:     domain.StateInProgress,
		TimeStart: testStart,
	}
	f.attempts = append(f.attempts, a)
	return a, nil
}

func (f *fakeRemote) GetAttemptData(_ context.Context, attemptID int64, page int, _ domain.PreflightData) (domain.AttemptPage, error) {
	f.mu.Lock()
	f.dataCalls++
	call := f.dataCalls
	hook := f.dataHook
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.pages[page]
	if !ok {
		return domain.AttemptPage{}, &domain.WSError{ErrorCode: "invalidpage", Message: "page not found"}
	}
	for _, a := range f.attempts {
		if a.ID == attemptID {
			data.Attempt = a
		}
	}
	data.Questions = append([]domain.Question(nil), data.Questions...)
	return data, nil
}

func (f *fakeRemote) GetAttemptSummary(context.Context, int64, domain.PreflightData) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summary != nil {
		return append([]domain.Question(nil), f.summary...), nil
	}
	var all []domain.Question
	for page := 0; page < len(f.pages); page++ {
		all = append(all, f.pages[page].Questions...)
	}
	return all, nil
}

func (f *fakeRemote) GetAttemptReview(_ context.Context, attemptID int64, _ int) (domain.AttemptReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	review := domain.AttemptReview{Grade: "7.00"}
	for _, a := range f.attempts {
		if a.ID == attemptID {
			review.Attempt = a
		}
	}
	for page := 0; page < len(f.pages); page++ {
		review.Questions = append(review.Questions, f.pages[page].Questions...)
	}
	return review, nil
}

func (f *fakeRemote) SaveAttempt(_ context.Context, _ int64, answers domain.Answers, _ domain.PreflightData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls = append(f.saveCalls, answers.Clone())
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRemote) ProcessAttempt(_ context.Context, attemptID int64, answers domain.Answers, _ domain.PreflightData, finish, timeUp bool) (domain.AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processCalls = append(f.processCalls, processCall{AttemptID: attemptID, Answers: answers.Clone(), Finish: finish, TimeUp: timeUp})
	if len(f.processErrs) > 0 {
		err := f.processErrs[0]
		f.processErrs = f.processErrs[1:]
		if err != nil {
			return "", err
		}
	}
	for i := range f.attempts {
		if f.attempts[i].ID != attemptID {
			continue
		}
		if finish {
			f.attempts[i].State = domain.StateFinished
		}
		return f.attempts[i].State, nil
	}
	return "", &domain.WSError{ErrorCode: "invalidattemptid", Message: "attempt not found"}
}

func (f *fakeRemote) ViewAttempt(_ context.Context, _ int64, page int, _ domain.PreflightData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, page)
	return nil
}

func (f *fakeRemote) setPage(page int, questions ...domain.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := page + 1
	f.pages[page] = domain.AttemptPage{Questions: questions, NextPage: next}
}

func (f *fakeRemote) setSequenceCheck(slot int, check string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for page, data := range f.pages {
		qs := append([]domain.Question(nil), data.Questions...)
		for i := range qs {
			if qs[i].Slot == slot {
				qs[i].SequenceCheck = check
			}
		}
		data.Questions = qs
		f.pages[page] = data
	}
}

func (f *fakeRemote) process() []processCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processCall(nil), f.processCalls...)
}

func (f *fakeRemote) saves() []domain.Answers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Answers(nil), f.saveCalls...)
}

func question(slot, page int, check string) domain.Question {
	prefix := "q1:" + strconv.Itoa(slot) + "_"
	return domain.Question{
		Slot:          slot,
		Number:        slot,
		Type:          "shortanswer",
		Page:          page,
		SequenceCheck: check,
		State:         "todo",
		Status:        "Not yet answered",
		MaxMark:       1,
		Prefix:        prefix,
	}
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                    testQuizID,
		CourseID:              testCourseID,
		Name:                  "Quiz",
		AutosavePeriod:        5 * time.Second,
		NavMethod:             domain.NavFree,
		PreferredBehaviour:    "deferredfeedback",
		Grade:                 10,
		SumGrades:             3,
		DecimalPoints:         2,
		QuestionDecimalPoints: -1,
	}
}

type fakeUI struct {
	mu        sync.Mutex
	answers   domain.Answers
	confirmed int
	decline   bool
	checks    []map[int]string
}

func (u *fakeUI) Answers() domain.Answers {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.answers.Clone()
}

func (u *fakeUI) set(name, value string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.answers == nil {
		u.answers = domain.Answers{}
	}
	u.answers[name] = value
}

func (u *fakeUI) Confirm(context.Context, string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.confirmed++
	if u.decline {
		return domain.ErrCanceled
	}
	return nil
}

func (u *fakeUI) SequenceChecksUpdated(checks map[int]string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.checks = append(u.checks, checks)
}

// fakePrompter answers with responses in order, repeating the last one.
type fakePrompter struct {
	mu        sync.Mutex
	calls     []app.PreflightRequest
	responses []domain.PreflightData
	err       error
}

func (p *fakePrompter) PreflightData(_ context.Context, req app.PreflightRequest) (domain.PreflightData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return domain.PreflightData{}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp.Clone(), nil
}

func (p *fakePrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type engine struct {
	session    app.Session
	clock      *clock.Fake
	store      *memory.Store
	cache      *memory.ResponseCache
	blocker    *memory.Blocker
	remote     *fakeRemote
	events     *app.EventHub
	gate       *accessrule.Gate
	registry   *behaviour.Registry
	offline    *app.OfflineService
	quizzes    *app.QuizService
	preflight  *app.PreflightHelper
	reconciler *app.Reconciler
	prompter   *fakePrompter
}

func newEngine(t *testing.T, remote *fakeRemote) *engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(testStart)
	store := memory.NewStore()
	session := app.Session{SiteID: "site-1", UserID: testUserID, Clock: clk, Logger: logger, Store: store}

	gate, err := accessrule.NewGate(logger, accessrule.Defaults(store)...)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	registry := behaviour.NewRegistry(logger)
	events := app.NewEventHub(session.SiteID, clk.Now)
	cache := memory.NewResponseCache(0)
	blocker := memory.NewBlocker()
	offline := app.NewOfflineService(session, registry)
	quizzes := app.NewQuizService(session, remote, cache, offline, registry)
	prompter := &fakePrompter{}
	preflight := app.NewPreflightHelper(session, gate, quizzes, offline, prompter)
	reconciler := app.NewReconciler(session, quizzes, offline, preflight, blocker, app.StaticNetwork{Online: true}, events, app.SyncOptions{MinInterval: time.Minute})

	return &engine{
		session:    session,
		clock:      clk,
		store:      store,
		cache:      cache,
		blocker:    blocker,
		remote:     remote,
		events:     events,
		gate:       gate,
		registry:   registry,
		offline:    offline,
		quizzes:    quizzes,
		preflight:  preflight,
		reconciler: reconciler,
		prompter:   prompter,
	}
}

func (e *engine) player(ui app.PlayerUI) *app.Player {
	return app.NewPlayer(e.session, app.PlayerDeps{
		Quizzes:   e.quizzes,
		Offline:   e.offline,
		Preflight: e.preflight,
		Gate:      e.gate,
		Questions: e.registry,
		Sync:      e.reconciler,
		Blocker:   e.blocker,
		Events:    e.events,
	}, ui)
}

// standardRemote serves a three question attempt over two pages.
func standardRemote() *fakeRemote {
	remote := newFakeRemote(testQuiz())
	remote.setPage(0, question(1, 0, "1"), question(2, 0, "1"))
	remote.setPage(1, question(3, 1, "1"))
	return remote
}

func newOfflineService(session app.Session, evaluator app.Evaluator) *app.OfflineService {
	return app.NewOfflineService(session, evaluator)
}
