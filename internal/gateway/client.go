// Package gateway is the narrow client for the WhatsApp HTTP gateway
// (Wappi-compatible). All methods return structured results and bounded
// errors; nothing escapes this boundary as a panic.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sender is the surface the outbound worker needs.
type Sender interface {
	SendMessage(ctx context.Context, phone, text string) error
	ReplyToMessage(ctx context.Context, messageID, text string) error
	MarkAsRead(ctx context.Context, messageID string) error
}

// Chat is one dialog returned by ListChats.
type Chat struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LastSeen int64  `json:"last_time"`
}

// ChatMessage is one raw gateway message returned by ListMessages.
type ChatMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	Type      string `json:"type"`
	Timestamp int64  `json:"time"`
}

// Client talks to the gateway REST API for one profile.
type Client struct {
	baseURL    string
	token      string
	profileID  string
	httpClient *http.Client
	maxRetries int
}

// New creates a gateway client.
func New(baseURL, token, profileID string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		profileID:  profileID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Detail  string          `json:"detail,omitempty"`
	Dialogs []Chat          `json:"dialogs,omitempty"`
	Msgs    json.RawMessage `json:"messages,omitempty"`
	File    string          `json:"file,omitempty"` // base64 media payload
}

// request performs one API call with bounded retry on timeouts, 429 and 5xx.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, body any) (*apiResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("profile_id", c.profileID)
	fullURL := c.baseURL + endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("gateway: request failed", "endpoint", endpoint, "attempt", attempt+1, "error", err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := 5
			if v := resp.Header.Get("Retry-After"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					retryAfter = n
				}
			}
			slog.Warn("gateway: rate limited", "endpoint", endpoint, "retry_after", retryAfter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retryAfter) * time.Second):
			}
			lastErr = fmt.Errorf("gateway: rate limited")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("gateway: server error %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("gateway: client error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		var parsed apiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("gateway: decode response: %w", err)
		}
		return &parsed, nil
	}

	return nil, fmt.Errorf("gateway: %s failed after %d attempts: %w", endpoint, c.maxRetries, lastErr)
}

func (c *Client) SendMessage(ctx context.Context, phone, text string) error {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/message/send", nil, map[string]string{
		"recipient": phone,
		"body":      text,
	})
	if err != nil {
		return err
	}
	if resp.Status != "done" {
		return fmt.Errorf("gateway: send to %s: status %q %s", phone, resp.Status, resp.Detail)
	}
	return nil
}

func (c *Client) ReplyToMessage(ctx context.Context, messageID, text string) error {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/message/reply", nil, map[string]string{
		"message_id": messageID,
		"body":       text,
	})
	if err != nil {
		return err
	}
	if resp.Status != "done" {
		return fmt.Errorf("gateway: reply to %s: status %q %s", messageID, resp.Status, resp.Detail)
	}
	return nil
}

func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/message/read", url.Values{
		"message_id": {messageID},
	}, nil)
	if err != nil {
		return err
	}
	if resp.Status != "done" {
		return fmt.Errorf("gateway: mark read %s: status %q", messageID, resp.Status)
	}
	return nil
}

// DownloadMedia fetches a voice/media payload; nil bytes means the gateway
// had nothing for that id.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/message/media/download", url.Values{
		"message_id": {messageID},
	}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != "done" || resp.File == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(resp.File)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode media for %s: %w", messageID, err)
	}
	return data, nil
}

// ListChats returns up to limit dialogs starting at offset.
func (c *Client) ListChats(ctx context.Context, limit, offset int, showAll bool) ([]Chat, error) {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/chats/get", url.Values{
		"limit":    {strconv.Itoa(limit)},
		"offset":   {strconv.Itoa(offset)},
		"show_all": {strconv.FormatBool(showAll)},
	}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != "done" {
		return nil, fmt.Errorf("gateway: list chats: status %q", resp.Status)
	}
	return resp.Dialogs, nil
}

// ListMessages returns messages from one chat, newest first.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]ChatMessage, error) {
	resp, err := c.request(ctx, http.MethodPost, "/api/sync/messages/get", url.Values{
		"chat_id": {chatID},
		"limit":   {strconv.Itoa(limit)},
		"offset":  {strconv.Itoa(offset)},
		"order":   {"desc"},
	}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != "done" {
		return nil, fmt.Errorf("gateway: list messages for %s: status %q", chatID, resp.Status)
	}
	var msgs []ChatMessage
	if len(resp.Msgs) > 0 {
		if err := json.Unmarshal(resp.Msgs, &msgs); err != nil {
			return nil, fmt.Errorf("gateway: decode messages: %w", err)
		}
	}
	return msgs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
