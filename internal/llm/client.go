/*-------------------------------------------------------------------------
 *
 * QPG - LLM Client
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	qerrors "qpg/internal/errors"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a new LLM client.
func NewClient(apiKey, baseURL, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the client has the credentials to run.
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != "" && c.model != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
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

// ChatCompletion sends one prompt and returns the first choice's content.
// Error bodies are surfaced by message only; the API key never appears in
// errors or logs.
func (c *Client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", qerrors.New(qerrors.KindConfigError,
			"LLM is not configured: set QPG_OPENAI_API_KEY or add it to the config file")
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindInternal, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindInternal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindConnectionError, "LLM request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindConnectionError, "failed to read LLM response", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", qerrors.Wrapf(qerrors.KindInternal, err,
			"LLM returned unparseable response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		return "", qerrors.Newf(qerrors.KindConnectionError, "LLM request failed: %s", message)
	}
	if len(parsed.Choices) == 0 {
		return "", qerrors.New(qerrors.KindInternal, "LLM returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
