package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// Client is the stateless HTTP façade over the exam backend. It performs no
// retries; failure policy belongs to the engine.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type startRequest struct {
	QuizType domain.QuizKind `json:"quiz_type"`
}

type startResponse struct {
	Session domain.QuizSession `json:"session"`
	Message string             `json:"message"`
}

type answerRequest struct {
	QuestionIndex int           `json:"question_index"`
	Answer        domain.Answer `json:"answer"`
	TimeSpent     int           `json:"time_spent"`
}

type answerResponse struct {
	Success bool `json:"success"`
	domain.AnswerFeedback
}

type navigateRequest struct {
	QuestionIndex int `json:"question_index"`
}

type skipRequest struct {
	QuestionIndex int `json:"question_index"`
	TimeSpent     int `json:"time_spent"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StartQuiz begins a new attempt of the given kind.
func (c *Client) StartQuiz(ctx context.Context, kind domain.QuizKind) (domain.QuizSession, error) {
	var resp startResponse
	if err := c.do(ctx, http.MethodPost, "/quiz/start", startRequest{QuizType: kind}, &resp); err != nil {
		return domain.QuizSession{}, fmt.Errorf("start quiz: %w", err)
	}
	return resp.Session, nil
}

// FetchSession returns the authoritative state of an attempt by token.
func (c *Client) FetchSession(ctx context.Context, token string) (domain.RemoteSession, error) {
	var resp domain.RemoteSession
	if err := c.do(ctx, http.MethodGet, "/quiz/session/"+token, nil, &resp); err != nil {
		return domain.RemoteSession{}, fmt.Errorf("fetch session: %w", err)
	}
	return resp, nil
}

// SaveAnswer records an answer and returns the server's immediate feedback.
func (c *Client) SaveAnswer(ctx context.Context, token string, index int, answer domain.Answer, timeSpent int) (domain.AnswerFeedback, error) {
	var resp answerResponse
	err := c.do(ctx, http.MethodPost, "/quiz/session/"+token+"/answer", answerRequest{
		QuestionIndex: index,
		Answer:        answer,
		TimeSpent:     timeSpent,
	}, &resp)
	if err != nil {
		return domain.AnswerFeedback{}, fmt.Errorf("save answer: %w", err)
	}
	return resp.AnswerFeedback, nil
}

// Navigate reports the user's current question to the backend.
func (c *Client) Navigate(ctx context.Context, token string, index int) error {
	if err := c.do(ctx, http.MethodPost, "/quiz/session/"+token+"/navigate", navigateRequest{QuestionIndex: index}, nil); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// Skip marks a question skipped on the backend.
func (c *Client) Skip(ctx context.Context, token string, index, timeSpent int) error {
	if err := c.do(ctx, http.MethodPost, "/quiz/session/"+token+"/skip", skipRequest{QuestionIndex: index, TimeSpent: timeSpent}, nil); err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	return nil
}

// Submit finalizes the attempt and returns the graded result.
func (c *Client) Submit(ctx context.Context, token string) (domain.QuizResult, error) {
	var resp domain.QuizResult
	if err := c.do(ctx, http.MethodPost, "/quiz/session/"+token+"/submit", nil, &resp); err != nil {
		return domain.QuizResult{}, fmt.Errorf("submit: %w", err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatus(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyStatus maps backend failures onto the domain error taxonomy.
func classifyStatus(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusGone, eb.Code == "session_expired":
		return domain.ErrSessionExpired
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrValidationRejected, eb.Error)
	default:
		return fmt.Errorf("%w: backend returned %d", domain.ErrSaveFailed, resp.StatusCode)
	}
}
