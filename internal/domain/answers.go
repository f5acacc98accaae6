package domain

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SequenceCheckField is the answer field (after the slot prefix) holding the sequence check.
const SequenceCheckField = ":sequencecheck"

var slotPrefix = regexp.MustCompile(`q\d+:(\d+)_`)

// Answers are raw form fields keyed by their prefixed name, e.g. "q12:3_answer".
type Answers map[string]string

// Clone returns a copy of the answers.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SlotFromName extracts the question slot from a prefixed field name, or -1.
func SlotFromName(name string) int {
	m := slotPrefix.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	slot, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return slot
}

// StripPrefix removes the slot prefix from a field name.
func StripPrefix(name string) string {
	loc := slotPrefix.FindStringIndex(name)
	if loc == nil {
		return name
	}
	return name[:loc[0]] + name[loc[1]:]
}

// IsExtraAnswer reports whether an unprefixed field is engine metadata such as
// the sequence check or a behaviour control, rather than a user response.
func IsExtraAnswer(name string) bool {
	return strings.HasPrefix(name, ":") || strings.HasPrefix(name, "-")
}

// BasicAnswers drops extra fields from an unprefixed answer set.
func BasicAnswers(a Answers) Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if !IsExtraAnswer(k) {
			out[k] = v
		}
	}
	return out
}

// SlotAnswers is the answer set of one slot with the prefix removed.
type SlotAnswers struct {
	Prefix  string
	Answers Answers
}

// ClassifyAnswers groups prefixed answers by slot. Fields without a slot are dropped.
func ClassifyAnswers(answers Answers) map[int]*SlotAnswers {
	out := make(map[int]*SlotAnswers)
	for name, value := range answers {
		slot := SlotFromName(name)
		if slot < 0 {
			continue
		}
		stripped := StripPrefix(name)
		entry, ok := out[slot]
		if !ok {
			entry = &SlotAnswers{
				Prefix:  name[:len(name)-len(stripped)],
				Answers: make(Answers),
			}
			out[slot] = entry
		}
		entry.Answers[stripped] = value
	}
	return out
}

// ExtractAnswers is the inverse of ClassifyAnswers.
func ExtractAnswers(slots map[int]*SlotAnswers) Answers {
	out := make(Answers)
	for _, entry := range slots {
		for name, value := range entry.Answers {
			out[entry.Prefix+name] = value
		}
	}
	return out
}

// AnswersChanged compares two snapshots field by field over the ordered union
// of their keys. A missing field counts as an empty value.
func AnswersChanged(prev, curr Answers) bool {
	for _, k := range unionKeys(prev, curr) {
		if prev[k] != curr[k] {
			return true
		}
	}
	return false
}

// SameAnswers reports whether two unprefixed answer sets hold the same values.
func SameAnswers(a, b Answers) bool {
	return !AnswersChanged(a, b)
}

func unionKeys(a, b Answers) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []Answers{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
