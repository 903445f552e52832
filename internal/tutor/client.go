package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("tutor: api key not configured")
	ErrUnavailable   = errors.New("tutor: provider unavailable")
	ErrEmptyResponse = errors.New("tutor: empty choices in response")
)

// instructions are the system prompts per metered feature.
var instructions = map[string]string{
	"conversation":     "You are a friendly English conversation partner for a Japanese learner. Reply naturally in simple English and keep the conversation going.",
	"writing":          "You are an English writing tutor. Correct the learner's text and briefly explain each correction in Japanese.",
	"quiz":             "Create a short multiple-choice English quiz for a Japanese learner on the given topic. Include the answers at the end.",
	"grammar_check":    "Check the grammar of the learner's English sentence. Return the corrected sentence and a one-line explanation in Japanese.",
	"grammar_topic":    "Explain the given English grammar topic to a Japanese learner with three example sentences.",
	"grammar_analysis": "Break down the structure of the learner's English sentence part by part and explain it in Japanese.",
	"coaching_start":   "You are an English learning coach. Ask about the learner's goals and propose a study plan for the next week.",
	"coaching_message": "You are an English learning coach continuing a session. Answer the learner's message with concrete advice.",
}

const defaultInstruction = "You are a helpful English tutor for Japanese learners."

// Instruction returns the system prompt for a feature.
func Instruction(feature string) string {
	if s, ok := instructions[feature]; ok {
		return s
	}
	return defaultInstruction
}

// Client calls an OpenAI-compatible chat completion endpoint (DeepSeek by default).
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func New(baseURL, apiKey, model string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends the feature instruction and the learner input and returns
// the assistant reply.
func (c *Client) Complete(ctx context.Context, feature, input string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: Instruction(feature)},
			{Role: "user", Content: input},
		},
	})
	if err != nil {
		return "", fmt.Errorf("tutor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tutor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tutor: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
