package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultNLPBase  = "https://api.openai.com/v1"
	defaultNLPModel = "gpt-4o-mini"
	defaultTimeout  = 30 * time.Second
)

// Config configures the OpenAI-compatible classifier provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use.  Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout.  Defaults to 30 s.
	Timeout time.Duration

	// Labels is the closed set of intent labels the model may produce.
	// Typically the intensity table's labels. The model is instructed to
	// return "qna.general" for anything outside the set.
	Labels []string
}

// openAIProvider implements Provider using the OpenAI chat completions API
// with JSON-mode output to guarantee a parseable Classification.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNLPBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultNLPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// systemPromptTmpl is the instruction set sent as the "system" message.
// One printf verb is substituted at call time: the comma-separated list of
// known intent labels.
const systemPromptTmpl = `You are the intent classifier for Tachikoma, a wellbeing check-in bot.

Your only job is to classify the user's message into exactly one intent label.
You NEVER answer the user — answering is handled elsewhere.

Known intent labels: %s

RULES (strict — do not deviate):
1. Respond ONLY with valid JSON. No markdown, no code fences, no text outside JSON.
2. Pick "intent" from the known labels above. If none fits, use "qna.general".
3. "score" is your confidence in [0,1].
4. Extract notable spans (subjects, people, activities) as entities.

JSON schema for your response:
{
  "intent":   "<label>",
  "score":    0.0-1.0,
  "entities": [{"name": "<type>", "value": "<text>"}, ...]
}
`

// Classify sends the utterance to the model and returns a Classification.
func (p *openAIProvider) Classify(ctx context.Context, text string) (*Classification, error) {
	labels := strings.Join(p.cfg.Labels, ", ")
	if labels == "" {
		labels = "qna.general"
	}

	body := oaiRequest{
		Model: p.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTmpl, labels)},
			{Role: "user", Content: text},
		},
		MaxTokens:      256,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nlp: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nlp: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("nlp: decode API response: %w", err)
	}

	if oaiResp.Error != nil {
		return nil, fmt.Errorf("nlp: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}

	content := oaiResp.Choices[0].Message.Content
	var classified Classification
	if err := json.Unmarshal([]byte(content), &classified); err != nil {
		return nil, fmt.Errorf("%w: %v (raw content: %.200s)", ErrMalformedOutput, err, content)
	}

	// Clamp out-of-range confidence rather than failing the turn over it.
	if classified.Score < 0 {
		classified.Score = 0
	}
	if classified.Score > 1 {
		classified.Score = 1
	}

	return &classified, nil
}
