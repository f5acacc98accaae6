// Package behaviour computes question behaviour states for answers saved
// offline, when the service cannot grade them.
package behaviour

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"quiz-attempt-engine/internal/domain"
)

// Handler computes the next state of a question under one behaviour. A nil
// state means the behaviour keeps the current one.
type Handler func(q domain.QuestionWithAnswers, checker ResponseChecker, known bool) *domain.QuestionState

// Registry maps behaviour names to handlers and question types to response checkers.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	behaviours map[string]Handler
	qtypes     map[string]ResponseChecker
}

// NewRegistry returns a registry with the built-in behaviours and question types.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:     logger,
		behaviours: make(map[string]Handler),
		qtypes:     make(map[string]ResponseChecker),
	}
	r.RegisterBehaviour("deferredfeedback", Deferred)
	r.RegisterBehaviour("deferredcbm", Deferred)
	// Immediate behaviours are graded by the service; offline they keep their state.
	for _, name := range []string{"adaptive", "adaptivenopenalty", "immediatefeedback", "immediatecbm", "interactive", "informationitem", "manualgraded"} {
		r.RegisterBehaviour(name, keepState)
	}
	for qtype, checker := range defaultCheckers() {
		r.RegisterQuestionType(qtype, checker)
	}
	return r
}

// RegisterBehaviour adds or replaces a behaviour handler.
func (r *Registry) RegisterBehaviour(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviours[name] = h
}

// RegisterQuestionType adds or replaces a response checker.
func (r *Registry) RegisterQuestionType(qtype string, checker ResponseChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qtypes[qtype] = checker
}

// SupportsQuestionType reports whether the question type can be answered.
func (r *Registry) SupportsQuestionType(qtype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.qtypes[qtype]
	return ok
}

// UnsupportedQuestionTypes returns the sorted, deduplicated types that cannot be answered.
func (r *Registry) UnsupportedQuestionTypes(qtypes []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, qtype := range qtypes {
		if _, dup := seen[qtype]; dup || r.SupportsQuestionType(qtype) {
			continue
		}
		seen[qtype] = struct{}{}
		out = append(out, qtype)
	}
	sort.Strings(out)
	return out
}

// DetermineNewState returns the candidate state of the question after its new
// answers, or nil when the state does not change.
func (r *Registry) DetermineNewState(_ context.Context, behaviour string, attemptID int64, q domain.QuestionWithAnswers) (*domain.QuestionState, error) {
	r.mu.RLock()
	handler, ok := r.behaviours[behaviour]
	checker, known := r.qtypes[q.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("behaviour not supported offline", "behaviour", behaviour, "attempt_id", attemptID)
		return nil, nil
	}
	return handler(q, checker, known), nil
}

// Deferred grades nothing until the attempt is submitted: the state only
// reflects whether the response is complete.
func Deferred(q domain.QuestionWithAnswers, checker ResponseChecker, known bool) *domain.QuestionState {
	if q.State != "" && domain.LookupQuestionState(q.State).Finished {
		return nil
	}
	next := domain.BasicAnswers(q.Answers)
	if domain.SameAnswers(domain.BasicAnswers(q.LocalAnswers), next) {
		return nil
	}
	if !known {
		state := domain.NewQuestionState("cannotdeterminestatus")
		return &state
	}

	var name string
	switch complete := checker.IsComplete(next); {
	case complete < 0:
		name = "cannotdeterminestatus"
	case complete > 0:
		name = "complete"
	case checker.IsGradable(next) > 0:
		name = "invalid"
	default:
		name = "todo"
	}
	state := domain.NewQuestionState(name)
	return &state
}

func keepState(domain.QuestionWithAnswers, ResponseChecker, bool) *domain.QuestionState {
	return nil
}
