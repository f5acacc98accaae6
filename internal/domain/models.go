package domain

import "time"

// NavMethod controls how a user moves between quiz pages.
type NavMethod string

const (
	NavFree       NavMethod = "free"
	NavSequential NavMethod = "seq"
)

// Grading methods reported by the service.
const (
	GradeHighest = 1
	GradeAverage = 2
	GradeFirst   = 3
	GradeLast    = 4
)

// Quiz is the configuration of a quiz. It does not change while an attempt is open.
type Quiz struct {
	ID                    int64         `json:"id"`
	CourseID              int64         `json:"courseId"`
	CourseModuleID        int64         `json:"courseModuleId"`
	Name                  string        `json:"name"`
	TimeOpen              time.Time     `json:"timeOpen"`
	TimeClose             time.Time     `json:"timeClose"`
	TimeLimit             time.Duration `json:"timeLimit"`
	GracePeriod           time.Duration `json:"gracePeriod"`
	AutosavePeriod        time.Duration `json:"autosavePeriod"`
	NavMethod             NavMethod     `json:"navMethod"`
	AllowOfflineAttempts  bool          `json:"allowOfflineAttempts"`
	PreferredBehaviour    string        `json:"preferredBehaviour"`
	MaxAttempts           int           `json:"maxAttempts"`
	GradeMethod           int           `json:"gradeMethod"`
	Grade                 float64       `json:"grade"`
	SumGrades             float64       `json:"sumGrades"`
	DecimalPoints         int           `json:"decimalPoints"`
	QuestionDecimalPoints int           `json:"questionDecimalPoints"`

	ReviewAttempt          int `json:"reviewAttempt"`
	ReviewCorrectness      int `json:"reviewCorrectness"`
	ReviewMarks            int `json:"reviewMarks"`
	ReviewSpecificFeedback int `json:"reviewSpecificFeedback"`
	ReviewGeneralFeedback  int `json:"reviewGeneralFeedback"`
	ReviewRightAnswer      int `json:"reviewRightAnswer"`
	ReviewOverallFeedback  int `json:"reviewOverallFeedback"`
}

// Sequential reports whether the quiz forces sequential navigation.
func (q Quiz) Sequential() bool {
	return q.NavMethod == NavSequential
}

// Attempt is a user's attempt at a quiz as seen by the client.
type Attempt struct {
	ID           int64        `json:"id"`
	QuizID       int64        `json:"quizId"`
	UserID       int64        `json:"userId"`
	Number       int          `json:"attempt"`
	UniqueID     int64        `json:"uniqueId"`
	Layout       string       `json:"layout"`
	CurrentPage  int          `json:"currentPage"`
	State        AttemptState `json:"state"`
	TimeStart    time.Time    `json:"timeStart"`
	TimeFinish   time.Time    `json:"timeFinish"`
	TimeModified time.Time    `json:"timeModified"`
	SumGrades    *float64     `json:"sumGrades,omitempty"`
	Preview      bool         `json:"preview"`

	// FinishedOffline is set when the attempt was finished locally and the
	// server has not confirmed it yet.
	FinishedOffline bool `json:"finishedOffline"`
}

// Question is the view of a question slot within an attempt.
type Question struct {
	Slot              int     `json:"slot"`
	Number            int     `json:"number"`
	Type              string  `json:"type"`
	Page              int     `json:"page"`
	HTML              string  `json:"html"`
	SequenceCheck     string  `json:"sequenceCheck"`
	State             string  `json:"state"`
	Status            string  `json:"status"`
	Mark              string  `json:"mark"`
	MaxMark           float64 `json:"maxMark"`
	BlockedByPrevious bool    `json:"blockedByPrevious"`
	Flagged           bool    `json:"flagged"`
	Prefix            string  `json:"prefix"`

	// Derived on the client.
	ReadableMark string  `json:"readableMark,omitempty"`
	LocalAnswers Answers `json:"localAnswers,omitempty"`
}

// SequenceCheckName is the answer field carrying the question's sequence check token.
func (q Question) SequenceCheckName() string {
	return q.Prefix + SequenceCheckField
}

// QuestionWithAnswers pairs a question with the answers submitted for it.
// Answer names have the slot prefix removed.
type QuestionWithAnswers struct {
	Question
	Answers Answers `json:"answers"`
}

// QuestionState is a behaviour state computed for a question.
type QuestionState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// AttemptPage is the data of one page of an attempt.
type AttemptPage struct {
	Attempt   Attempt    `json:"attempt"`
	Questions []Question `json:"questions"`
	NextPage  int        `json:"nextPage"`
	Messages  []string   `json:"messages,omitempty"`
}

// AttemptReview is the review of a finished attempt.
type AttemptReview struct {
	Attempt   Attempt    `json:"attempt"`
	Grade     string     `json:"grade"`
	Questions []Question `json:"questions"`
}

// QuizAccessInfo describes the access rules active for a quiz.
type QuizAccessInfo struct {
	CanAttempt           bool     `json:"canAttempt"`
	CanPreview           bool     `json:"canPreview"`
	CanReviewMyAttempts  bool     `json:"canReviewMyAttempts"`
	ActiveRuleNames      []string `json:"activeRuleNames"`
	AccessRules          []string `json:"accessRules"`
	PreventAccessReasons []string `json:"preventAccessReasons"`
}

// AttemptAccessInfo describes access to a specific attempt.
type AttemptAccessInfo struct {
	EndTime                  time.Time `json:"endTime"`
	IsFinished               bool      `json:"isFinished"`
	IsPreflightCheckRequired bool      `json:"isPreflightCheckRequired"`
	PreventNewAttemptReasons []string  `json:"preventNewAttemptReasons"`
}

// PreflightData holds the extra input gathered before starting or resuming an attempt.
// It is never persisted.
type PreflightData map[string]string

// Clone returns a copy that can be mutated independently.
func (p PreflightData) Clone() PreflightData {
	out := make(PreflightData, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OfflineAttempt is the locally stored metadata of an attempt.
type OfflineAttempt struct {
	ID           int64     `json:"id"`
	QuizID       int64     `json:"quizId"`
	UserID       int64     `json:"userId"`
	CourseID     int64     `json:"courseId"`
	Number       int       `json:"attempt"`
	CurrentPage  int       `json:"currentPage"`
	Finished     bool      `json:"finished"`
	TimeCreated  time.Time `json:"timeCreated"`
	TimeModified time.Time `json:"timeModified"`
}

// OfflineAnswer is a single stored answer field.
type OfflineAnswer struct {
	AttemptID    int64     `json:"attemptId"`
	QuizID       int64     `json:"quizId"`
	UserID       int64     `json:"userId"`
	Slot         int       `json:"slot"`
	Name         string    `json:"name"`
	Value        string    `json:"value"`
	TimeModified time.Time `json:"timeModified"`
}

// OfflineQuestion is the locally stored behaviour state of a question slot.
type OfflineQuestion struct {
	AttemptID int64  `json:"attemptId"`
	QuizID    int64  `json:"quizId"`
	UserID    int64  `json:"userId"`
	Slot      int    `json:"slot"`
	Number    int    `json:"number"`
	State     string `json:"state"`
	Status    string `json:"status"`
}

// SyncResult describes what a reconciliation pass accomplished.
type SyncResult struct {
	Warnings        []string `json:"warnings"`
	AttemptFinished bool     `json:"attemptFinished"`
	Updated         bool     `json:"updated"`
}
