package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// gradeEpsilon is the smallest grade treated as non-zero.
const gradeEpsilon = 0.000005

// IsQuizOffline reports whether attempts of the quiz may be taken offline.
// Sequential quizzes are never played offline.
func IsQuizOffline(quiz Quiz) bool {
	return quiz.AllowOfflineAttempts && !quiz.Sequential()
}

// AttemptDueDate returns the moment the attempt must be submitted by, or the
// zero time when there is none. Overdue attempts get the grace period on top.
func AttemptDueDate(quiz Quiz, attempt Attempt) time.Time {
	var due time.Time
	if quiz.TimeLimit > 0 && !attempt.TimeStart.IsZero() {
		due = attempt.TimeStart.Add(quiz.TimeLimit)
	}
	if !quiz.TimeClose.IsZero() && (due.IsZero() || quiz.TimeClose.Before(due)) {
		due = quiz.TimeClose
	}
	if due.IsZero() {
		return time.Time{}
	}
	switch attempt.State {
	case StateInProgress:
		return due
	case StateOverdue:
		return due.Add(quiz.GracePeriod)
	default:
		return time.Time{}
	}
}

// AttemptDueDateWarning returns a message about the submission deadline, if any.
func AttemptDueDateWarning(quiz Quiz, attempt Attempt) string {
	due := AttemptDueDate(quiz, attempt)
	if due.IsZero() {
		return ""
	}
	if attempt.State == StateOverdue {
		return "This attempt is overdue. It must be submitted by " + due.Format(time.RFC1123)
	}
	return "This attempt must be submitted by " + due.Format(time.RFC1123)
}

// IsAttemptTimeNearlyOver reports whether saving would race the closing of the
// attempt: it is not in progress, or its due date falls within one autosave period.
func IsAttemptTimeNearlyOver(quiz Quiz, attempt Attempt, now time.Time) bool {
	if attempt.State != StateInProgress {
		return true
	}
	due := AttemptDueDate(quiz, attempt)
	return !due.IsZero() && !now.Add(quiz.AutosavePeriod).Before(due)
}

// PagesFromLayout lists the page numbers of a layout such as "1,2,0,3,0".
func PagesFromLayout(layout string) []int {
	var pages []int
	page := 0
	for _, item := range splitLayout(layout) {
		if item == "0" {
			pages = append(pages, page)
			page++
		}
	}
	return pages
}

// PagesFromLayoutAndQuestions lists the pages that contain at least one of the slots.
func PagesFromLayoutAndQuestions(layout string, slots map[int]*SlotAnswers) []int {
	var pages []int
	page := 0
	added := false
	for _, item := range splitLayout(layout) {
		if item == "0" {
			page++
			added = false
			continue
		}
		slot, err := strconv.Atoi(item)
		if err != nil || added {
			continue
		}
		if _, ok := slots[slot]; ok {
			pages = append(pages, page)
			added = true
		}
	}
	return pages
}

func splitLayout(layout string) []string {
	if strings.TrimSpace(layout) == "" {
		return nil
	}
	parts := strings.Split(layout, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// QuizHasGrades reports whether the quiz is graded at all.
func QuizHasGrades(quiz Quiz) bool {
	return quiz.Grade >= gradeEpsilon && quiz.SumGrades >= gradeEpsilon
}

// GradeDecimals returns the decimals used to display question marks.
func GradeDecimals(quiz Quiz) int {
	if quiz.QuestionDecimalPoints == -1 {
		return quiz.DecimalPoints
	}
	return quiz.QuestionDecimalPoints
}

// RescaleGrade converts raw attempt sum grades into the quiz grade scale.
func RescaleGrade(raw float64, quiz Quiz) float64 {
	if quiz.SumGrades < gradeEpsilon {
		return 0
	}
	return raw * quiz.Grade / quiz.SumGrades
}

// FormatGrade renders a grade with a fixed number of decimals.
func FormatGrade(grade float64, decimals int) string {
	if math.IsNaN(grade) {
		return ""
	}
	if decimals < 0 {
		decimals = 0
	}
	return strconv.FormatFloat(grade, 'f', decimals, 64)
}

// ReadableMark returns the display text of a question's mark.
func ReadableMark(q Question, decimals int) string {
	maxMark := FormatGrade(q.MaxMark, decimals)
	if q.Mark != "" {
		return fmt.Sprintf("Mark %s out of %s", q.Mark, maxMark)
	}
	if q.MaxMark > 0 {
		return "Marked out of " + maxMark
	}
	return ""
}

// AttemptReadableState returns the display name of an attempt state.
func AttemptReadableState(attempt Attempt) string {
	if attempt.FinishedOffline {
		return "Finished (pending sync)"
	}
	switch attempt.State {
	case StateInProgress:
		return "In progress"
	case StateOverdue:
		return "Overdue"
	case StateFinished:
		return "Finished"
	case StateAbandoned:
		return "Never submitted"
	default:
		return ""
	}
}

// Review display moments, matched against the quiz review bitmasks.
const (
	ReviewDuring           = 0x10000
	ReviewImmediatelyAfter = 0x01000
	ReviewLaterWhileOpen   = 0x00100
	ReviewAfterClose       = 0x00010
)

const reviewImmediateWindow = 2 * time.Minute

// Mark display levels.
const (
	MarksHidden     = 0
	MarksMaxOnly    = 1
	MarksMarkAndMax = 2
)

// DisplayOptions says which parts of an attempt review may be shown.
type DisplayOptions struct {
	Attempt          bool
	Correctness      bool
	Marks            int
	SpecificFeedback bool
	GeneralFeedback  bool
	RightAnswer      bool
	OverallFeedback  bool
}

// AttemptReviewMoment returns which review moment applies to the attempt now.
func AttemptReviewMoment(quiz Quiz, attempt Attempt, now time.Time) int {
	switch {
	case attempt.State == StateInProgress:
		return ReviewDuring
	case !quiz.TimeClose.IsZero() && !now.Before(quiz.TimeClose):
		return ReviewAfterClose
	case now.Before(attempt.TimeFinish.Add(reviewImmediateWindow)):
		return ReviewImmediatelyAfter
	default:
		return ReviewLaterWhileOpen
	}
}

// ReviewDisplayOptions resolves the quiz review settings for a review moment.
func ReviewDisplayOptions(quiz Quiz, moment int) DisplayOptions {
	opts := DisplayOptions{
		Attempt:          quiz.ReviewAttempt&moment != 0,
		Correctness:      quiz.ReviewCorrectness&moment != 0,
		SpecificFeedback: quiz.ReviewSpecificFeedback&moment != 0,
		GeneralFeedback:  quiz.ReviewGeneralFeedback&moment != 0,
		RightAnswer:      quiz.ReviewRightAnswer&moment != 0,
		OverallFeedback:  quiz.ReviewOverallFeedback&moment != 0,
	}
	if quiz.ReviewMarks&moment != 0 {
		opts.Marks = MarksMarkAndMax
	}
	return opts
}
