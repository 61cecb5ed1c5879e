package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thanhhuynhk17/messenger-agent/internal/domain"
)

const (
	defaultBaseURL     = "http://localhost:2024"
	defaultAssistantID = "search_agent"
	defaultTimeout     = 90 * time.Second
)

// ErrAgent is the single failure category surfaced to callers: backend
// unreachable, run failed, malformed response, or no assistant reply.
// Retry policy, if any, belongs to the caller.
var ErrAgent = errors.New("agent turn failed")

// ErrNoReply wraps ErrAgent for the case where the run finished without
// producing any assistant-authored message.
var ErrNoReply = fmt.Errorf("%w: no assistant reply in run result", ErrAgent)

// Client talks to a LangGraph-style agent backend: create-or-attach a
// thread, then run synchronously and wait for the terminal result.
type Client struct {
	baseURL     string
	assistantID string
	webhookURL  string
	timeout     time.Duration
	client      *http.Client
	logger      *slog.Logger
}

type ClientConfig struct {
	BaseURL     string
	AssistantID string
	WebhookURL  string // optional: backend notifies this URL when a run ends
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AssistantID == "" {
		cfg.AssistantID = defaultAssistantID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		assistantID: cfg.AssistantID,
		webhookURL:  cfg.WebhookURL,
		timeout:     cfg.Timeout,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

// Converse sends one user message and blocks until the agent's final reply.
// An empty threadID creates a new conversation; a known threadID attaches to
// it (create is idempotent, an existing id is not an error). The whole turn
// is bounded by the configured timeout.
func (c *Client) Converse(ctx context.Context, userText, threadID string) (domain.TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := c.createThread(ctx, threadID)
	if err != nil {
		return domain.TurnResult{}, err
	}

	reply, err := c.runWait(ctx, id, userText)
	if err != nil {
		return domain.TurnResult{}, err
	}
	return domain.TurnResult{ThreadID: id, Reply: reply}, nil
}

// createRequest matches the backend's POST /threads body.
type createRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	IfExists string `json:"if_exists"`
}

type createResponse struct {
	ThreadID string `json:"thread_id"`
}

func (c *Client) createThread(ctx context.Context, threadID string) (string, error) {
	body := createRequest{ThreadID: threadID, IfExists: "do_nothing"}

	var resp createResponse
	if err := c.post(ctx, "/threads", body, &resp); err != nil {
		return "", err
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("%w: thread create returned no thread_id", ErrAgent)
	}
	return resp.ThreadID, nil
}

// runRequest matches the backend's POST /threads/{id}/runs/wait body.
type runRequest struct {
	AssistantID string   `json:"assistant_id"`
	Input       runInput `json:"input"`
	Webhook     string   `json:"webhook,omitempty"`
}

type runInput struct {
	Messages []runMessage `json:"messages"`
}

type runMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runResult struct {
	Messages []resultMessage `json:"messages"`
}

type resultMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (c *Client) runWait(ctx context.Context, threadID, userText string) (string, error) {
	body := runRequest{
		AssistantID: c.assistantID,
		Input:       runInput{Messages: []runMessage{{Role: "user", Content: userText}}},
		Webhook:     c.webhookURL,
	}

	var result runResult
	if err := c.post(ctx, "/threads/"+threadID+"/runs/wait", body, &result); err != nil {
		return "", err
	}

	// The run result lists the whole conversation; the reply is the last
	// assistant-authored message.
	for i := len(result.Messages) - 1; i >= 0; i-- {
		if result.Messages[i].Type == "ai" {
			return result.Messages[i].Content, nil
		}
	}
	return "", ErrNoReply
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrAgent, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrAgent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAgent, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d: %s", ErrAgent, path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrAgent, path, err)
	}

	if c.logger != nil {
		c.logger.Debug("agent backend call", "path", path, "latency_ms", time.Since(start).Milliseconds())
	}
	return nil
}
