package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramProvider posts messages to a chat through the Bot API.
type TelegramProvider struct {
	BaseURL string
	Token   string
	ChatID  string
	Client  *http.Client
}

// NewTelegramProvider returns a provider for the given bot token and chat.
func NewTelegramProvider(token, chatID string) *TelegramProvider {
	return &TelegramProvider{
		BaseURL: DefaultTelegramAPI,
		Token:   token,
		ChatID:  chatID,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

func (t *TelegramProvider) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(telegramMessage{ChatID: t.ChatID, Text: msg.Text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	u := strings.TrimSuffix(t.BaseURL, "/") + "/bot" + t.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		return fmt.Errorf("send message: %w", redactToken(err, t.Token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type redactedError struct{ msg string }

func (e *redactedError) Error() string { return e.msg }

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>")}
}
