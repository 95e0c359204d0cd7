package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

// Client reads the procurement inbox through the Mailpit HTTP API.
type Client struct {
	baseURL    string
	fetchFull  bool
	httpClient *http.Client
}

func NewClient(cfg config.MailboxConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		fetchFull: cfg.FetchFull,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListMessages returns the inbox contents. It never fails: transport and decode errors are
// logged and yield an empty list, and individual undecodable messages are dropped.
func (c *Client) ListMessages(ctx context.Context) []RawMessage {
	body, err := c.get(ctx, "/api/v1/messages?expand=1")
	if err != nil {
		logger.Error("Failed to fetch mailbox messages", zap.Error(err))
		return []RawMessage{}
	}

	var envelope struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		logger.Error("Failed to decode mailbox listing", zap.Error(err))
		return []RawMessage{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(envelope.Messages, &items); err != nil {
		logger.Warn("Mailbox listing has no message array")
		return []RawMessage{}
	}

	messages := make([]RawMessage, 0, len(items))
	for i, item := range items {
		var msg RawMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			logger.Warn("Skipping undecodable mailbox message", zap.Int("index", i), zap.Error(err))
			continue
		}

		if c.fetchFull && !msg.hasContent() && msg.ID != "" {
			c.fillContent(ctx, &msg)
		}

		messages = append(messages, msg)
	}

	logger.Debug("Mailbox listed", zap.Int("count", len(messages)))
	return messages
}

// GetMessage fetches one message with its full text and HTML bodies.
func (c *Client) GetMessage(ctx context.Context, id string) (*RawMessage, error) {
	body, err := c.get(ctx, "/api/v1/message/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var msg RawMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", id, err)
	}
	return &msg, nil
}

func (c *Client) fillContent(ctx context.Context, msg *RawMessage) {
	full, err := c.GetMessage(ctx, msg.ID)
	if err != nil {
		logger.Warn("Failed to fetch full message, using summary", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	msg.Text = full.Text
	msg.HTML = full.HTML
	if len(full.Mime) > 0 {
		msg.Mime = full.Mime
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach mailbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailbox returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
