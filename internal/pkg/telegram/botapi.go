package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPIURL = "https://api.telegram.org"

// BotAPI is a minimal Telegram Bot API client used for payment reports.
type BotAPI struct {
	token  string
	client *resty.Client
}

// Option customises a BotAPI.
type Option func(*BotAPI)

// WithAPIURL points the client at another Bot API server.
func WithAPIURL(url string) Option {
	return func(b *BotAPI) {
		b.client.SetBaseURL(url + "/bot" + b.token)
	}
}

// NewBotAPI creates a new Telegram Bot API client.
func NewBotAPI(token string, opts ...Option) *BotAPI {
	b := &BotAPI{
		token: token,
		client: resty.New().
			SetBaseURL(defaultAPIURL + "/bot" + token).
			SetTimeout(15 * time.Second),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// APIError is returned when the Bot API answers with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API call %s: %d %s", e.Method, e.Code, e.Description)
}

// Permanent reports whether retrying the same call cannot succeed, such as
// when the chat is gone or the bot was blocked.
func (e *APIError) Permanent() bool {
	return e.Code == http.StatusBadRequest || e.Code == http.StatusForbidden
}

// Call makes a raw API call and returns the result field.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("telegram API call %s failed: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("telegram API call %s: unexpected response (HTTP %d)", method, resp.StatusCode())
	}
	if !out.OK {
		return nil, &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
	}
	return out.Result, nil
}

// SendMessage sends an HTML text message.
func (b *BotAPI) SendMessage(ctx context.Context, chatID string, text string) error {
	_, err := b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	return err
}
