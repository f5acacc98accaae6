package app

import (
	"context"

	"quiz-attempt-engine/internal/accessrule"
	"quiz-attempt-engine/internal/domain"
)

// PreflightRequest is what the user is asked for before an attempt opens.
type PreflightRequest struct {
	Quiz     domain.Quiz
	Attempt  *domain.Attempt
	Rules    []string
	Prefetch bool
	// LastError is the validation error of the previous prompt, if any.
	LastError error
}

// Prompter collects preflight data from the user. It returns domain.ErrCanceled
// when the user dismisses the prompt.
type Prompter interface {
	PreflightData(ctx context.Context, req PreflightRequest) (domain.PreflightData, error)
}

// PreflightHelper gathers and validates preflight data against the access rules.
type PreflightHelper struct {
	session  Session
	gate     *accessrule.Gate
	quizzes  *QuizService
	offline  *OfflineService
	prompter Prompter
}

// NewPreflightHelper builds the helper. prompter may be nil for unattended use.
func NewPreflightHelper(session Session, gate *accessrule.Gate, quizzes *QuizService, offline *OfflineService, prompter Prompter) *PreflightHelper {
	return &PreflightHelper{
		session:  session.withDefaults(),
		gate:     gate,
		quizzes:  quizzes,
		offline:  offline,
		prompter: prompter,
	}
}

// GetAndCheckPreflightData gathers preflight data and validates it by starting
// or continuing the attempt. A rejected preflight is prompted again; a failure
// on the retry when no preflight was needed is returned as is.
func (h *PreflightHelper) GetAndCheckPreflightData(ctx context.Context, quiz domain.Quiz, access domain.QuizAccessInfo, preflight domain.PreflightData, attempt *domain.Attempt, offline, prefetch bool) (domain.Attempt, domain.PreflightData, error) {
	return h.getAndCheck(ctx, quiz, access, preflight, attempt, offline, prefetch, firstTry, nil)
}

func (h *PreflightHelper) getAndCheck(ctx context.Context, quiz domain.Quiz, access domain.QuizAccessInfo, preflight domain.PreflightData, attempt *domain.Attempt, offline, prefetch bool, try submitTry, lastErr error) (domain.Attempt, domain.PreflightData, error) {
	rules := access.ActiveRuleNames
	data, required, err := h.GetPreflightData(ctx, quiz, rules, preflight, attempt, prefetch, true, lastErr)
	if err != nil {
		return domain.Attempt{}, preflight, err
	}

	validated, err := h.ValidatePreflightData(ctx, quiz, rules, data, attempt, offline, prefetch)
	if err == nil {
		return validated, data, nil
	}
	if prefetch || (try == retrying && !required) {
		return domain.Attempt{}, data, err
	}
	h.session.Logger.Info("preflight validation failed, asking again", "quiz_id", quiz.ID, "required", required, "error", err)
	return h.getAndCheck(ctx, quiz, access, data, attempt, offline, prefetch, retrying, err)
}

// GetPreflightData merges the fixed data of the rules and, when a rule needs
// it, the user's input. With ask unset a required prompt fails with
// domain.ErrPreflightRequired.
func (h *PreflightHelper) GetPreflightData(ctx context.Context, quiz domain.Quiz, rules []string, preflight domain.PreflightData, attempt *domain.Attempt, prefetch, ask bool, lastErr error) (domain.PreflightData, bool, error) {
	if unsupported := h.gate.Unsupported(rules); len(unsupported) > 0 {
		return nil, false, &domain.UnsupportedError{Kind: "access rules", Names: unsupported}
	}

	data := h.gate.GetFixedPreflightData(ctx, rules, quiz, preflight, attempt, prefetch)
	required := h.gate.IsPreflightRequired(ctx, rules, quiz, attempt, prefetch)
	if !required {
		return data, false, nil
	}
	if !ask || h.prompter == nil {
		return nil, true, domain.ErrPreflightRequired
	}

	input, err := h.prompter.PreflightData(ctx, PreflightRequest{
		Quiz:      quiz,
		Attempt:   attempt,
		Rules:     rules,
		Prefetch:  prefetch,
		LastError: lastErr,
	})
	if err != nil {
		return nil, true, err
	}
	for k, v := range input {
		data[k] = v
	}
	return data, true, nil
}

// ValidatePreflightData checks the data with the service: continuing an
// attempt loads its current page, an overdue or finished offline one its
// summary, and without attempt a new one is started.
func (h *PreflightHelper) ValidatePreflightData(ctx context.Context, quiz domain.Quiz, rules []string, preflight domain.PreflightData, attempt *domain.Attempt, offline, prefetch bool) (domain.Attempt, error) {
	strategy := ReadOnlyNetwork
	if offline {
		strategy = ReadPreferCache
	}

	var result domain.Attempt
	var err error
	switch {
	case attempt == nil:
		result, err = h.quizzes.StartAttempt(ctx, quiz.ID, preflight, false)
	case attempt.State != domain.StateOverdue && !attempt.FinishedOffline:
		result = *attempt
		_, err = h.quizzes.GetAttemptData(ctx, attempt.ID, attempt.CurrentPage, preflight, strategy)
		if err == nil && offline {
			if stored, serr := h.offline.GetAttempt(ctx, attempt.ID); serr == nil {
				result.CurrentPage = stored.CurrentPage
			}
		}
	default:
		result = *attempt
		_, err = h.quizzes.GetAttemptSummary(ctx, *attempt, preflight, false, strategy)
	}

	if err != nil {
		if domain.IsWSError(err) {
			h.gate.NotifyPreflightCheckFailed(ctx, rules, quiz, attempt, preflight, prefetch)
		}
		return domain.Attempt{}, err
	}
	h.gate.NotifyPreflightCheckPassed(ctx, rules, quiz, &result, preflight, prefetch)
	return result, nil
}
