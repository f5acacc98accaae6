package accessrule

import (
	"context"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// Rule names as reported by the service.
const (
	NamePassword             = "quizaccess_password"
	NameTimeLimit            = "quizaccess_timelimit"
	NameOpenCloseDate        = "quizaccess_openclosedate"
	NameOfflineAttempts      = "quizaccess_offlineattempts"
	NameIPAddress            = "quizaccess_ipaddress"
	NameSecureWindow         = "quizaccess_securewindow"
	NameNumAttempts          = "quizaccess_numattempts"
	NameDelayBetweenAttempts = "quizaccess_delaybetweenattempts"
)

// Preflight field names.
const (
	FieldPassword         = "quizpassword"
	FieldConfirmDataSaved = "confirmdatasaved"
)

// showTimeBeforeDeadline is how close to the close date the time left appears.
const showTimeBeforeDeadline = time.Hour

// PasswordStore remembers quiz passwords so resumed and synced attempts do not prompt again.
type PasswordStore interface {
	QuizPassword(ctx context.Context, quizID int64) (string, bool, error)
	SaveQuizPassword(ctx context.Context, quizID int64, password string) error
	DeleteQuizPassword(ctx context.Context, quizID int64) error
}

// Defaults returns the built-in rules.
func Defaults(passwords PasswordStore) []Rule {
	return []Rule{
		Password(passwords),
		TimeLimit(),
		OpenCloseDate(),
		OfflineAttempts(),
		{Name: NameIPAddress},
		{Name: NameSecureWindow},
		{Name: NameNumAttempts},
		{Name: NameDelayBetweenAttempts},
	}
}

// Password asks for the quiz password unless one is stored.
func Password(store PasswordStore) Rule {
	return Rule{
		Name: NamePassword,
		IsPreflightRequired: func(ctx context.Context, quiz domain.Quiz, _ *domain.Attempt, _ bool) (bool, error) {
			_, ok, err := store.QuizPassword(ctx, quiz.ID)
			if err != nil {
				return false, err
			}
			return !ok, nil
		},
		FixedPreflightData: func(ctx context.Context, quiz domain.Quiz, _ *domain.Attempt, data domain.PreflightData, _ bool) error {
			password, ok, err := store.QuizPassword(ctx, quiz.ID)
			if err != nil || !ok {
				return err
			}
			data[FieldPassword] = password
			return nil
		},
		NotifyPassed: func(ctx context.Context, quiz domain.Quiz, _ *domain.Attempt, data domain.PreflightData, _ bool) error {
			password, ok := data[FieldPassword]
			if !ok {
				return nil
			}
			return store.SaveQuizPassword(ctx, quiz.ID, password)
		},
		NotifyFailed: func(ctx context.Context, quiz domain.Quiz, _ *domain.Attempt, _ domain.PreflightData, _ bool) error {
			return store.DeleteQuizPassword(ctx, quiz.ID)
		},
	}
}

// TimeLimit asks for confirmation before starting a timed attempt.
func TimeLimit() Rule {
	return Rule{
		Name: NameTimeLimit,
		IsPreflightRequired: func(_ context.Context, _ domain.Quiz, attempt *domain.Attempt, _ bool) (bool, error) {
			return attempt == nil, nil
		},
		ShouldShowTimeLeft: func(attempt domain.Attempt, endTime, now time.Time) bool {
			// Previews past the limit keep running without a countdown.
			return !(attempt.Preview && now.After(endTime))
		},
	}
}

// OpenCloseDate shows the time left during the last hour before the quiz closes.
func OpenCloseDate() Rule {
	return Rule{
		Name: NameOpenCloseDate,
		ShouldShowTimeLeft: func(attempt domain.Attempt, endTime, now time.Time) bool {
			if endTime.IsZero() {
				return false
			}
			return now.After(endTime.Add(-showTimeBeforeDeadline))
		},
	}
}

// OfflineAttempts requires the data saved acknowledgement when downloading for offline use.
func OfflineAttempts() Rule {
	return Rule{
		Name: NameOfflineAttempts,
		IsPreflightRequired: func(_ context.Context, _ domain.Quiz, _ *domain.Attempt, prefetch bool) (bool, error) {
			return prefetch, nil
		},
		FixedPreflightData: func(_ context.Context, _ domain.Quiz, _ *domain.Attempt, data domain.PreflightData, _ bool) error {
			data[FieldConfirmDataSaved] = "1"
			return nil
		},
	}
}
