package domain

import "fmt"

// AttemptState is the lifecycle state of an attempt.
type AttemptState string

const (
	StateNotStarted AttemptState = "notstarted"
	StateInProgress AttemptState = "inprogress"
	StateOverdue    AttemptState = "overdue"
	StateFinished   AttemptState = "finished"
	StateAbandoned  AttemptState = "abandoned"
)

// IsCompleted reports whether the state is terminal.
func (s AttemptState) IsCompleted() bool {
	return s == StateFinished || s == StateAbandoned
}

// IsActive reports whether the attempt still accepts submissions.
func (s AttemptState) IsActive() bool {
	return s == StateInProgress || s == StateOverdue
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// Staying in the same state is allowed.
func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	if s == next {
		return true
	}
	switch s {
	case StateNotStarted:
		return next == StateInProgress
	case StateInProgress:
		return next == StateOverdue || next == StateFinished || next == StateAbandoned
	case StateOverdue:
		return next == StateFinished || next == StateAbandoned
	default:
		return false
	}
}

// Transition validates a move from one state to another.
func Transition(from, to AttemptState) (AttemptState, error) {
	if !from.CanTransitionTo(to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// QuestionStateInfo describes a question behaviour state.
type QuestionStateInfo struct {
	Name     string
	Class    string
	Status   string
	Active   bool
	Finished bool
}

var questionStates = map[string]QuestionStateInfo{
	"todo":                  {Name: "todo", Class: "answernotsaved", Status: "notyetanswered", Active: true},
	"invalid":               {Name: "invalid", Class: "invalidanswer", Status: "invalidanswer", Active: true},
	"complete":              {Name: "complete", Class: "answersaved", Status: "answersaved", Active: true},
	"needsgrading":          {Name: "needsgrading", Class: "requiresgrading", Status: "requiresgrading", Finished: true},
	"finished":              {Name: "finished", Class: "complete", Status: "complete", Finished: true},
	"gaveup":                {Name: "gaveup", Class: "notanswered", Status: "notanswered", Finished: true},
	"gradedwrong":           {Name: "gradedwrong", Class: "incorrect", Status: "incorrect", Finished: true},
	"gradedpartial":         {Name: "gradedpartial", Class: "partiallycorrect", Status: "partiallycorrect", Finished: true},
	"gradedright":           {Name: "gradedright", Class: "correct", Status: "correct", Finished: true},
	"mangrwrong":            {Name: "mangrwrong", Class: "incorrect", Status: "incorrect", Finished: true},
	"mangrpartial":          {Name: "mangrpartial", Class: "partiallycorrect", Status: "partiallycorrect", Finished: true},
	"mangrright":            {Name: "mangrright", Class: "correct", Status: "correct", Finished: true},
	"cannotdeterminestatus": {Name: "cannotdeterminestatus", Class: "cannotdeterminestatus", Status: "cannotdeterminestatus"},
}

// LookupQuestionState returns the info of a named state. Unknown names map to
// cannotdeterminestatus.
func LookupQuestionState(name string) QuestionStateInfo {
	if info, ok := questionStates[name]; ok {
		return info
	}
	return questionStates["cannotdeterminestatus"]
}

// NewQuestionState builds a QuestionState with the status label of the named state.
func NewQuestionState(name string) QuestionState {
	return QuestionState{Name: name, Status: LookupQuestionState(name).Status}
}
