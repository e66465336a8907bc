package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls an OpenAI-compatible chat completions endpoint and decodes the
// model output into classification results.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	retry      RetryConfig
}

// NewClient builds a Client. endpoint is the full completions URL.
func NewClient(endpoint, apiKey, model string) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("classify: empty endpoint")
	}
	if apiKey == "" {
		return nil, errors.New("classify: empty api key")
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      defaultRetry,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify implements Classifier.
func (c *Client) Classify(ctx context.Context, req Request) ([]Result, error) {
	content, err := c.complete(ctx, buildPrompt(req))
	if err != nil {
		return nil, err
	}
	return decodeResults(content)
}

// Respond produces a free-form conversational reply. The same endpoint
// serves both classification and chat.
func (c *Client) Respond(ctx context.Context, message, contextSummary string) (string, error) {
	prompt := "You are a concise personal assistant replying in chat. " +
		"Answer in at most three sentences, no markdown."
	if contextSummary != "" {
		prompt += "\nRecent activity: " + contextSummary
	}
	prompt += "\nUser says: " + message
	return c.complete(ctx, prompt)
}

// complete sends one prompt and returns the model's raw text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal classify request: %w", err)
	}

	resp, err := doWithRetry(ctx, c.retry, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", fmt.Errorf("classify call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classify call: %s: %s", resp.Status, truncate(string(raw), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return "", fmt.Errorf("decode classify envelope: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("classify service: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", errors.New("classify service returned no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
