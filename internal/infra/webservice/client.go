package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"quiz-attempt-engine/internal/domain"
)

const endpoint = "/webservice/rest/server.php"

// ErrServiceUnavailable is returned when the service cannot be reached or
// answers with a server error.
var ErrServiceUnavailable = errors.New("web service unavailable")

// Client calls the quiz functions of the REST web service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the site at baseURL. httpClient may be nil.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) call(ctx context.Context, function string, params url.Values, out interface{}) error {
	form := url.Values{}
	for k, vs := range params {
		form[k] = vs
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)

	reqURL := c.baseURL + endpoint + "?moodlewsrestformat=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, function, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned status %d", ErrServiceUnavailable, function, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", function, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", function, err)
	}
	var exc exception
	if json.Unmarshal(raw, &exc) == nil && exc.Exception != "" {
		return &domain.WSError{Exception: exc.Exception, ErrorCode: exc.ErrorCode, Message: exc.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", function, err)
	}
	return nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// addNameValues encodes a map as the service's list of name/value pairs.
func addNameValues(params url.Values, key string, data map[string]string) {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		params.Set(fmt.Sprintf("%s[%d][name]", key, i), name)
		params.Set(fmt.Sprintf("%s[%d][value]", key, i), data[name])
	}
}

func (c *Client) GetQuiz(ctx context.Context, courseID, quizID int64) (domain.Quiz, error) {
	params := url.Values{"courseids[0]": {id(courseID)}}
	var resp quizzesResponse
	if err := c.call(ctx, "mod_quiz_get_quizzes_by_courses", params, &resp); err != nil {
		return domain.Quiz{}, err
	}
	for _, q := range resp.Quizzes {
		if q.ID == quizID {
			return q.toDomain(), nil
		}
	}
	return domain.Quiz{}, fmt.Errorf("%w: quiz %d in course %d", domain.ErrQuizNotFound, quizID, courseID)
}

func (c *Client) GetQuizAccessInformation(ctx context.Context, quizID int64) (domain.QuizAccessInfo, error) {
	var resp accessResponse
	if err := c.call(ctx, "mod_quiz_get_quiz_access_information", url.Values{"quizid": {id(quizID)}}, &resp); err != nil {
		return domain.QuizAccessInfo{}, err
	}
	return domain.QuizAccessInfo{
		CanAttempt:           resp.CanAttempt,
		CanPreview:           resp.CanPreview,
		CanReviewMyAttempts:  resp.CanReviewMyAttempts,
		ActiveRuleNames:      resp.ActiveRuleNames,
		AccessRules:          resp.AccessRules,
		PreventAccessReasons: resp.PreventAccessReasons,
	}, nil
}

func (c *Client) GetAttemptAccessInformation(ctx context.Context, quizID, attemptID int64) (domain.AttemptAccessInfo, error) {
	params := url.Values{"quizid": {id(quizID)}}
	if attemptID != 0 {
		params.Set("attemptid", id(attemptID))
	}
	var resp attemptAccessResponse
	if err := c.call(ctx, "mod_quiz_get_attempt_access_information", params, &resp); err != nil {
		return domain.AttemptAccessInfo{}, err
	}
	return domain.AttemptAccessInfo{
		EndTime:                  resp.EndTime.Time(),
		IsFinished:               resp.IsFinished,
		IsPreflightCheckRequired: resp.IsPreflightCheckRequired,
		PreventNewAttemptReasons: resp.PreventNewAttemptReasons,
	}, nil
}

func (c *Client) GetQuizRequiredQtypes(ctx context.Context, quizID int64) ([]string, error) {
	var resp qtypesResponse
	if err := c.call(ctx, "mod_quiz_get_quiz_required_qtypes", url.Values{"quizid": {id(quizID)}}, &resp); err != nil {
		return nil, err
	}
	return resp.QuestionTypes, nil
}

func (c *Client) GetUserAttempts(ctx context.Context, quizID, userID int64) ([]domain.Attempt, error) {
	params := url.Values{
		"quizid":          {id(quizID)},
		"userid":          {id(userID)},
		"status":          {"all"},
		"includepreviews": {"1"},
	}
	var resp attemptsResponse
	if err := c.call(ctx, "mod_quiz_get_user_attempts", params, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Attempt, 0, len(resp.Attempts))
	for _, a := range resp.Attempts {
		out = append(out, a.toDomain())
	}
	return out, nil
}

func (c *Client) StartAttempt(ctx context.Context, quizID int64, preflight domain.PreflightData, forceNew bool) (domain.Attempt, error) {
	params := url.Values{"quizid": {id(quizID)}, "forcenew": {flag(forceNew)}}
	addNameValues(params, "preflightdata", preflight)
	var resp startResponse
	if err := c.call(ctx, "mod_quiz_start_attempt", params, &resp); err != nil {
		return domain.Attempt{}, err
	}
	return resp.Attempt.toDomain(), nil
}

func (c *Client) GetAttemptData(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData) (domain.AttemptPage, error) {
	params := url.Values{"attemptid": {id(attemptID)}, "page": {strconv.Itoa(page)}}
	addNameValues(params, "preflightdata", preflight)
	var resp attemptDataResponse
	if err := c.call(ctx, "mod_quiz_get_attempt_data", params, &resp); err != nil {
		return domain.AttemptPage{}, err
	}
	return domain.AttemptPage{
		Attempt:   resp.Attempt.toDomain(),
		Questions: questionsToDomain(resp.Questions, resp.Attempt.UniqueID),
		NextPage:  resp.NextPage,
		Messages:  resp.Messages,
	}, nil
}

func (c *Client) GetAttemptSummary(ctx context.Context, attemptID int64, preflight domain.PreflightData) ([]domain.Question, error) {
	params := url.Values{"attemptid": {id(attemptID)}}
	addNameValues(params, "preflightdata", preflight)
	var resp summaryResponse
	if err := c.call(ctx, "mod_quiz_get_attempt_summary", params, &resp); err != nil {
		return nil, err
	}
	return questionsToDomain(resp.Questions, 0), nil
}

func (c *Client) GetAttemptReview(ctx context.Context, attemptID int64, page int) (domain.AttemptReview, error) {
	params := url.Values{"attemptid": {id(attemptID)}, "page": {strconv.Itoa(page)}}
	var resp reviewResponse
	if err := c.call(ctx, "mod_quiz_get_attempt_review", params, &resp); err != nil {
		return domain.AttemptReview{}, err
	}
	return domain.AttemptReview{
		Attempt:   resp.Attempt.toDomain(),
		Grade:     gradeString(resp.Grade),
		Questions: questionsToDomain(resp.Questions, resp.Attempt.UniqueID),
	}, nil
}

func (c *Client) SaveAttempt(ctx context.Context, attemptID int64, answers domain.Answers, preflight domain.PreflightData) error {
	params := url.Values{"attemptid": {id(attemptID)}}
	addNameValues(params, "data", answers)
	addNameValues(params, "preflightdata", preflight)
	var resp statusResponse
	if err := c.call(ctx, "mod_quiz_save_attempt", params, &resp); err != nil {
		return err
	}
	if !resp.Status {
		return &domain.WSError{ErrorCode: "savefailed", Message: "the attempt could not be saved"}
	}
	return nil
}

func (c *Client) ProcessAttempt(ctx context.Context, attemptID int64, answers domain.Answers, preflight domain.PreflightData, finish, timeUp bool) (domain.AttemptState, error) {
	params := url.Values{
		"attemptid":     {id(attemptID)},
		"finishattempt": {flag(finish)},
		"timeup":        {flag(timeUp)},
	}
	addNameValues(params, "data", answers)
	addNameValues(params, "preflightdata", preflight)
	var resp processResponse
	if err := c.call(ctx, "mod_quiz_process_attempt", params, &resp); err != nil {
		return "", err
	}
	return domain.AttemptState(resp.State), nil
}

func (c *Client) ViewAttempt(ctx context.Context, attemptID int64, page int, preflight domain.PreflightData) error {
	params := url.Values{"attemptid": {id(attemptID)}, "page": {strconv.Itoa(page)}}
	addNameValues(params, "preflightdata", preflight)
	return c.call(ctx, "mod_quiz_view_attempt", params, &statusResponse{})
}
