// Package qna is the client for the open-domain answer service. Every
// non-termination turn queries it, whatever the classifier said — the
// structured-intent path only adds telemetry, it never suppresses the
// answer lookup.
package qna

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/Tachikoma/common/retry"
)

// NoAnswerMessage is the reply sent when the service returns no candidates.
// An empty candidate list is the one defined degraded-but-successful outcome
// in the turn pipeline; everything else that fails propagates.
const NoAnswerMessage = "Sorry, could not find an answer in the Q and A system."

const defaultTimeout = 15 * time.Second

// Candidate is one ranked answer.
type Candidate struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
}

// Config configures the answer service client.
type Config struct {
	// Endpoint is the full URL of the answer endpoint.
	Endpoint string

	// APIKey authenticates against the service. Sent as a bearer token;
	// empty disables the header.
	APIKey string

	// Timeout is the HTTP request timeout. Defaults to 15 s.
	Timeout time.Duration
}

// Client queries the answer service. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient returns a Client for the given endpoint.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type answerRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	Answers []Candidate `json:"answers"`
}

// errClient marks HTTP 4xx responses, which retrying cannot fix.
var errClient = errors.New("qna: client error")

// Answer returns the ranked candidate answers for text. The slice may be
// empty — that is not an error. Transient failures (network errors, 5xx)
// are retried with backoff before giving up.
func (c *Client) Answer(ctx context.Context, text string) ([]Candidate, error) {
	data, err := json.Marshal(answerRequest{Question: text})
	if err != nil {
		return nil, fmt.Errorf("qna: marshal request: %w", err)
	}

	var answers []Candidate
	retryCfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, errClient)
		},
	}
	err = retry.Do(ctx, retryCfg, func() error {
		answers, err = c.answerOnce(ctx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return answers, nil
}

func (c *Client) answerOnce(ctx context.Context, data []byte) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("qna: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qna: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qna: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: HTTP %d: %.200s", errClient, resp.StatusCode, body)
		}
		return nil, fmt.Errorf("qna: HTTP %d: %.200s", resp.StatusCode, body)
	}

	var decoded answerResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("qna: decode response: %w", err)
	}

	return decoded.Answers, nil
}

// Top returns the best candidate's text, or NoAnswerMessage when the list is
// empty. Candidates are assumed already ranked by the service.
func Top(candidates []Candidate) string {
	if len(candidates) == 0 {
		return NoAnswerMessage
	}
	return candidates[0].Answer
}
