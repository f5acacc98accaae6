package behaviour

import (
	"strings"

	"quiz-attempt-engine/internal/domain"
)

// ResponseChecker inspects the answers of one question type. Both functions
// return 1 for yes, 0 for no and -1 when they cannot tell.
type ResponseChecker struct {
	IsComplete func(answers domain.Answers) int
	IsGradable func(answers domain.Answers) int
}

func defaultCheckers() map[string]ResponseChecker {
	single := ResponseChecker{IsComplete: singleAnswer, IsGradable: singleAnswer}
	parts := ResponseChecker{IsComplete: allParts, IsGradable: anyPart}
	return map[string]ResponseChecker{
		"truefalse":         single,
		"shortanswer":       single,
		"numerical":         single,
		"calculated":        single,
		"calculatedsimple":  single,
		"calculatedmulti":   ResponseChecker{IsComplete: multichoice, IsGradable: multichoice},
		"multichoice":       ResponseChecker{IsComplete: multichoice, IsGradable: multichoice},
		"essay":             ResponseChecker{IsComplete: essay, IsGradable: func(domain.Answers) int { return 0 }},
		"match":             parts,
		"randomsamatch":     parts,
		"multianswer":       parts,
		"gapselect":         parts,
		"ddwtos":            parts,
		"ddimageortext":     parts,
		"description":       ResponseChecker{IsComplete: func(domain.Answers) int { return 1 }, IsGradable: func(domain.Answers) int { return 0 }},
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func singleAnswer(a domain.Answers) int {
	return boolInt(strings.TrimSpace(a["answer"]) != "")
}

func multichoice(a domain.Answers) int {
	if v, ok := a["answer"]; ok {
		return boolInt(v != "" && v != "-1")
	}
	for name, v := range a {
		if strings.HasPrefix(name, "choice") && v != "" && v != "0" {
			return 1
		}
	}
	return 0
}

func essay(a domain.Answers) int {
	if strings.TrimSpace(a["answer"]) != "" {
		return 1
	}
	return boolInt(a["attachments"] != "" && a["attachments"] != "0")
}

func partValues(a domain.Answers) []string {
	var out []string
	for name, v := range a {
		if strings.HasPrefix(name, "sub") || strings.HasPrefix(name, "p") {
			out = append(out, v)
		}
	}
	return out
}

func partAnswered(v string) bool {
	return v != "" && v != "0"
}

func allParts(a domain.Answers) int {
	values := partValues(a)
	if len(values) == 0 {
		return 0
	}
	for _, v := range values {
		if !partAnswered(v) {
			return 0
		}
	}
	return 1
}

func anyPart(a domain.Answers) int {
	for _, v := range partValues(a) {
		if partAnswered(v) {
			return 1
		}
	}
	return 0
}
