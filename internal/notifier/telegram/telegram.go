// Package telegram delivers listings to Telegram chats via the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Config controls the Bot API client.
type Config struct {
	Token string
	// BaseURL overrides the Bot API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// Notifier implements monitor.Notifier against the Telegram Bot API. The
// destination string is the chat identifier.
type Notifier struct {
	token   string
	baseURL string
	client  *http.Client
}

// New builds a notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		token:   cfg.Token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Deliver sends one listing as a message to the chat. Any transport or API
// error means the listing is not confirmed delivered.
func (n *Notifier) Deliver(ctx context.Context, destination string, listing monitor.Listing) error {
	if destination == "" {
		return fmt.Errorf("destination chat is required")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                destination,
		Text:                  formatMessage(listing),
		ParseMode:             "HTML",
		DisableWebPagePreview: false,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var apiResp sendMessageResponse
	if err := json.Unmarshal(payload, &apiResp); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !apiResp.OK {
		return fmt.Errorf("telegram api rejected message (status %d): %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}

func formatMessage(l monitor.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(l.Title))
	if l.Price != "" {
		fmt.Fprintf(&b, "Price: %s\n", html.EscapeString(l.Price))
	}
	if l.SellerName != "" {
		fmt.Fprintf(&b, "Seller: %s\n", html.EscapeString(l.SellerName))
	}
	if l.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", html.EscapeString(l.Location))
	}
	if l.URL != "" {
		fmt.Fprintf(&b, `<a href="%s">Open listing</a>`, html.EscapeString(l.URL))
	}
	return b.String()
}
