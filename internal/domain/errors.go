package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuizNotFound indicates the quiz could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound indicates the attempt is not known to the server.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrOfflineAttemptNotFound is returned when no local record exists for an attempt.
	ErrOfflineAttemptNotFound = errors.New("offline attempt not found")
	// ErrQuestionNotFound indicates a slot is missing from the server's attempt data.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidTransition is returned for illegal attempt state changes.
	ErrInvalidTransition = errors.New("invalid attempt state transition")
	// ErrAttemptNotActive is returned when an operation needs an open attempt.
	ErrAttemptNotActive = errors.New("attempt is not active")
	// ErrPageUnavailable is returned when paging an overdue or finished-offline attempt.
	ErrPageUnavailable = errors.New("attempt pages are not available, only the summary")
	// ErrNavigationNotAllowed is returned when sequential navigation forbids the page.
	ErrNavigationNotAllowed = errors.New("navigation to a previous page is not allowed")
	// ErrQuizBlocked is returned when the quiz is being played and cannot be synced.
	ErrQuizBlocked = errors.New("quiz is blocked by an active attempt")
	// ErrOffline is returned when a sync needs a connection and the device has none.
	ErrOffline = errors.New("device is offline")
	// ErrNetworkLimited is returned when syncing is restricted to unlimited networks.
	ErrNetworkLimited = errors.New("network access is limited")
	// ErrPreflightRequired is returned when user input is needed but cannot be requested.
	ErrPreflightRequired = errors.New("preflight data required")
	// ErrCanceled is returned when the user dismisses a prompt or confirmation.
	ErrCanceled = errors.New("canceled by user")
	// ErrNoQuestions indicates the attempt summary came back empty.
	ErrNoQuestions = errors.New("attempt has no questions")
)

// SequenceCheckErrorCode is the error code the service returns when a
// submission carries a stale sequence check.
const SequenceCheckErrorCode = "submissionoutofsequencefriendlymessage"

// WSError is an error reported by the remote web service.
type WSError struct {
	Exception string
	ErrorCode string
	Message   string
}

func (e *WSError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode)
	}
	return e.Message
}

// IsWSError reports whether err was returned by the remote service, as
// opposed to transport or local failures.
func IsWSError(err error) bool {
	var ws *WSError
	return errors.As(err, &ws)
}

// IsSequenceCheckError reports whether err is a stale sequence check rejection.
func IsSequenceCheckError(err error) bool {
	var ws *WSError
	return errors.As(err, &ws) && ws.ErrorCode == SequenceCheckErrorCode
}

// OperationError carries the context of a failed engine operation.
type OperationError struct {
	Op        string
	QuizID    int64
	AttemptID int64
	Err       error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.QuizID != 0 {
		fmt.Fprintf(&b, " quiz=%d", e.QuizID)
	}
	if e.AttemptID != 0 {
		fmt.Fprintf(&b, " attempt=%d", e.AttemptID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// UnsupportedError blocks starting an attempt that uses unsupported rules or question types.
type UnsupportedError struct {
	Kind  string
	Names []string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.Kind, strings.Join(e.Names, ", "))
}
