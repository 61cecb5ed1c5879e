package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIBase    = "https://graph.facebook.com"
	defaultAPIVersion = "v23.0"

	// recipientCategory tells the Send API how to interpret the recipient
	// identifier (page-scoped id).
	recipientCategory = "id"
	messagingType     = "RESPONSE"
)

// SendClient delivers text messages through the Messenger Send API.
// It implements domain.Notifier.
type SendClient struct {
	apiBase     string
	accessToken string
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

type SendConfig struct {
	APIBase     string // override for tests; defaults to the Graph API
	APIVersion  string
	AccessToken string
	RatePerSec  float64 // Send API calls per second; 0 = platform default
	Burst       int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewSendClient(cfg SendConfig) *SendClient {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SendClient{
		apiBase:     cfg.APIBase + "/" + cfg.APIVersion,
		accessToken: cfg.AccessToken,
		client:      cfg.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:      cfg.Logger,
	}
}

// sendRequest matches the Send API body.
type sendRequest struct {
	Recipient     map[string]string `json:"recipient"`
	Message       sendText          `json:"message"`
	MessagingType string            `json:"messaging_type"`
}

type sendText struct {
	Text string `json:"text"`
}

// Send posts one text message to the user. Errors are for the caller to
// observe; a failed send must not abort the rest of a batch.
func (c *SendClient) Send(ctx context.Context, recipientID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	payload := sendRequest{
		Recipient:     map[string]string{recipientCategory: recipientID},
		Message:       sendText{Text: text},
		MessagingType: messagingType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	endpoint := c.apiBase + "/me/messages?access_token=" + url.QueryEscape(c.accessToken)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("outgoing message", "recipient", recipientID, "text_len", len(text))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send API %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Info("message sent", "recipient", recipientID)
	return nil
}
