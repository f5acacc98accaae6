package behaviour

import (
	"context"
	"reflect"
	"testing"

	"quiz-attempt-engine/internal/domain"
)

func evaluate(t *testing.T, r *Registry, behaviour string, q domain.QuestionWithAnswers) *domain.QuestionState {
	t.Helper()
	state, err := r.DetermineNewState(context.Background(), behaviour, 1, q)
	if err != nil {
		t.Fatalf("determine new state: %v", err)
	}
	return state
}

func TestDeferredStates(t *testing.T) {
	r := NewRegistry(nil)
	q := domain.QuestionWithAnswers{Question: domain.Question{Slot: 1, Type: "match", State: "todo"}}

	q.Answers = domain.Answers{"sub0": "2", "sub1": "0", ":sequencecheck": "1"}
	if got := evaluate(t, r, "deferredfeedback", q); got == nil || got.Name != "invalid" {
		t.Fatalf("expected invalid for partial match, got %+v", got)
	}

	q.Answers = domain.Answers{"sub0": "2", "sub1": "1"}
	got := evaluate(t, r, "deferredfeedback", q)
	if got == nil || got.Name != "complete" || got.Status != "answersaved" {
		t.Fatalf("expected complete, got %+v", got)
	}

	q.Answers = domain.Answers{"sub0": "0", "sub1": "0"}
	if got := evaluate(t, r, "deferredfeedback", q); got == nil || got.Name != "todo" {
		t.Fatalf("expected todo, got %+v", got)
	}
}

func TestDeferredKeepsStateWhenAnswersUnchanged(t *testing.T) {
	r := NewRegistry(nil)
	q := domain.QuestionWithAnswers{
		Question: domain.Question{Type: "shortanswer", State: "complete", LocalAnswers: domain.Answers{"answer": "x", ":sequencecheck": "1"}},
		Answers:  domain.Answers{"answer": "x", ":sequencecheck": "2"},
	}
	if got := evaluate(t, r, "deferredfeedback", q); got != nil {
		t.Fatalf("expected no change, got %+v", got)
	}

	q.State = "gradedright"
	q.Answers = domain.Answers{"answer": "y"}
	if got := evaluate(t, r, "deferredfeedback", q); got != nil {
		t.Fatalf("finished questions keep their state, got %+v", got)
	}
}

func TestUnknownQuestionTypeAndBehaviour(t *testing.T) {
	r := NewRegistry(nil)
	q := domain.QuestionWithAnswers{Question: domain.Question{Type: "ordering"}, Answers: domain.Answers{"answer": "1"}}

	if got := evaluate(t, r, "deferredfeedback", q); got == nil || got.Name != "cannotdeterminestatus" {
		t.Fatalf("expected cannotdeterminestatus, got %+v", got)
	}
	if got := evaluate(t, r, "interactive", q); got != nil {
		t.Fatalf("interactive keeps the state offline, got %+v", got)
	}
	if got := evaluate(t, r, "unheardof", q); got != nil {
		t.Fatalf("unknown behaviour keeps the state, got %+v", got)
	}

	unsupported := r.UnsupportedQuestionTypes([]string{"ordering", "multichoice", "ordering", "drawing"})
	if !reflect.DeepEqual(unsupported, []string{"drawing", "ordering"}) {
		t.Fatalf("unexpected unsupported types %v", unsupported)
	}
}

func TestMultichoice(t *testing.T) {
	if multichoice(domain.Answers{"answer": "-1"}) != 0 {
		t.Fatalf("cleared single choice is not complete")
	}
	if multichoice(domain.Answers{"choice0": "0", "choice1": "1"}) != 1 {
		t.Fatalf("multiple choice with one ticked is complete")
	}
}
