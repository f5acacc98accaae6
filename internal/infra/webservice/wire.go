package webservice

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// unixTime decodes unix seconds, tolerating the false and null the service
// sends for unset times.
type unixTime int64

func (t *unixTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("false")) || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(f)
	}
	*t = unixTime(v)
	return nil
}

func (t unixTime) Time() time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

type exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

type wireWarning struct {
	Item        string `json:"item"`
	ItemID      int64  `json:"itemid"`
	WarningCode string `json:"warningcode"`
	Message     string `json:"message"`
}

type wireQuiz struct {
	ID                     int64    `json:"id"`
	Course                 int64    `json:"course"`
	CourseModule           int64    `json:"coursemodule"`
	Name                   string   `json:"name"`
	TimeOpen               unixTime `json:"timeopen"`
	TimeClose              unixTime `json:"timeclose"`
	TimeLimit              int64    `json:"timelimit"`
	GracePeriod            int64    `json:"graceperiod"`
	AutosavePeriod         int64    `json:"autosaveperiod"`
	NavMethod              string   `json:"navmethod"`
	AllowOfflineAttempts   int      `json:"allowofflineattempts"`
	PreferredBehaviour     string   `json:"preferredbehaviour"`
	Attempts               int      `json:"attempts"`
	GradeMethod            int      `json:"grademethod"`
	Grade                  float64  `json:"grade"`
	SumGrades              float64  `json:"sumgrades"`
	DecimalPoints          int      `json:"decimalpoints"`
	QuestionDecimalPoints  int      `json:"questiondecimalpoints"`
	ReviewAttempt          int      `json:"reviewattempt"`
	ReviewCorrectness      int      `json:"reviewcorrectness"`
	ReviewMarks            int      `json:"reviewmarks"`
	ReviewSpecificFeedback int      `json:"reviewspecificfeedback"`
	ReviewGeneralFeedback  int      `json:"reviewgeneralfeedback"`
	ReviewRightAnswer      int      `json:"reviewrightanswer"`
	ReviewOverallFeedback  int      `json:"reviewoverallfeedback"`
}

func (w wireQuiz) toDomain() domain.Quiz {
	nav := domain.NavFree
	if w.NavMethod == string(domain.NavSequential) {
		nav = domain.NavSequential
	}
	return domain.Quiz{
		ID:                     w.ID,
		CourseID:               w.Course,
		CourseModuleID:         w.CourseModule,
		Name:                   w.Name,
		TimeOpen:               w.TimeOpen.Time(),
		TimeClose:              w.TimeClose.Time(),
		TimeLimit:              seconds(w.TimeLimit),
		GracePeriod:            seconds(w.GracePeriod),
		AutosavePeriod:         seconds(w.AutosavePeriod),
		NavMethod:              nav,
		AllowOfflineAttempts:   w.AllowOfflineAttempts != 0,
		PreferredBehaviour:     w.PreferredBehaviour,
		MaxAttempts:            w.Attempts,
		GradeMethod:            w.GradeMethod,
		Grade:                  w.Grade,
		SumGrades:              w.SumGrades,
		DecimalPoints:          w.DecimalPoints,
		QuestionDecimalPoints:  w.QuestionDecimalPoints,
		ReviewAttempt:          w.ReviewAttempt,
		ReviewCorrectness:      w.ReviewCorrectness,
		ReviewMarks:            w.ReviewMarks,
		ReviewSpecificFeedback: w.ReviewSpecificFeedback,
		ReviewGeneralFeedback:  w.ReviewGeneralFeedback,
		ReviewRightAnswer:      w.ReviewRightAnswer,
		ReviewOverallFeedback:  w.ReviewOverallFeedback,
	}
}

type wireAttempt struct {
	ID           int64    `json:"id"`
	Quiz         int64    `json:"quiz"`
	UserID       int64    `json:"userid"`
	Attempt      int      `json:"attempt"`
	UniqueID     int64    `json:"uniqueid"`
	Layout       string   `json:"layout"`
	CurrentPage  int      `json:"currentpage"`
	Preview      int      `json:"preview"`
	State        string   `json:"state"`
	TimeStart    unixTime `json:"timestart"`
	TimeFinish   unixTime `json:"timefinish"`
	TimeModified unixTime `json:"timemodified"`
	SumGrades    *float64 `json:"sumgrades"`
}

func (w wireAttempt) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:           w.ID,
		QuizID:       w.Quiz,
		UserID:       w.UserID,
		Number:       w.Attempt,
		UniqueID:     w.UniqueID,
		Layout:       w.Layout,
		CurrentPage:  w.CurrentPage,
		State:        domain.AttemptState(w.State),
		TimeStart:    w.TimeStart.Time(),
		TimeFinish:   w.TimeFinish.Time(),
		TimeModified: w.TimeModified.Time(),
		SumGrades:    w.SumGrades,
		Preview:      w.Preview != 0,
	}
}

type wireQuestion struct {
	Slot              int     `json:"slot"`
	Type              string  `json:"type"`
	Page              int     `json:"page"`
	HTML              string  `json:"html"`
	SequenceCheck     int64   `json:"sequencecheck"`
	Flagged           bool    `json:"flagged"`
	Number            int     `json:"number"`
	State             string  `json:"state"`
	Status            string  `json:"status"`
	BlockedByPrevious bool    `json:"blockedbyprevious"`
	Mark              string  `json:"mark"`
	MaxMark           float64 `json:"maxmark"`
}

var prefixPattern = regexp.MustCompile(`name="(q\d+:\d+_):sequencecheck"`)

// questionPrefix reads the field prefix from the rendered question, falling
// back to the one built from the usage id.
func questionPrefix(html string, uniqueID int64, slot int) string {
	if m := prefixPattern.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if uniqueID == 0 {
		return ""
	}
	return "q" + strconv.FormatInt(uniqueID, 10) + ":" + strconv.Itoa(slot) + "_"
}

func (w wireQuestion) toDomain(uniqueID int64) domain.Question {
	return domain.Question{
		Slot:              w.Slot,
		Number:            w.Number,
		Type:              w.Type,
		Page:              w.Page,
		HTML:              w.HTML,
		SequenceCheck:     strconv.FormatInt(w.SequenceCheck, 10),
		State:             w.State,
		Status:            w.Status,
		Mark:              w.Mark,
		MaxMark:           w.MaxMark,
		BlockedByPrevious: w.BlockedByPrevious,
		Flagged:           w.Flagged,
		Prefix:            questionPrefix(w.HTML, uniqueID, w.Slot),
	}
}

func questionsToDomain(in []wireQuestion, uniqueID int64) []domain.Question {
	out := make([]domain.Question, 0, len(in))
	for _, q := range in {
		out = append(out, q.toDomain(uniqueID))
	}
	return out
}

type quizzesResponse struct {
	Quizzes []wireQuiz `json:"quizzes"`
}

type accessResponse struct {
	CanAttempt           bool     `json:"canattempt"`
	CanPreview           bool     `json:"canpreview"`
	CanReviewMyAttempts  bool     `json:"canreviewmyattempts"`
	AccessRules          []string `json:"accessrules"`
	ActiveRuleNames      []string `json:"activerulenames"`
	PreventAccessReasons []string `json:"preventaccessreasons"`
}

type attemptAccessResponse struct {
	EndTime                  unixTime `json:"endtime"`
	IsFinished               bool     `json:"isfinished"`
	IsPreflightCheckRequired bool     `json:"ispreflightcheckrequired"`
	PreventNewAttemptReasons []string `json:"preventnewattemptreasons"`
}

type qtypesResponse struct {
	QuestionTypes []string `json:"questiontypes"`
}

type attemptsResponse struct {
	Attempts []wireAttempt `json:"attempts"`
}

type startResponse struct {
	Attempt  wireAttempt   `json:"attempt"`
	Warnings []wireWarning `json:"warnings"`
}

type attemptDataResponse struct {
	Attempt   wireAttempt    `json:"attempt"`
	Messages  []string       `json:"messages"`
	NextPage  int            `json:"nextpage"`
	Questions []wireQuestion `json:"questions"`
}

type summaryResponse struct {
	Questions []wireQuestion `json:"questions"`
}

type reviewResponse struct {
	Grade     json.RawMessage `json:"grade"`
	Attempt   wireAttempt     `json:"attempt"`
	Questions []wireQuestion  `json:"questions"`
}

type statusResponse struct {
	Status   bool          `json:"status"`
	Warnings []wireWarning `json:"warnings"`
}

type processResponse struct {
	State    string        `json:"state"`
	Warnings []wireWarning `json:"warnings"`
}

// gradeString renders the review grade, which is a string or a number.
func gradeString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
