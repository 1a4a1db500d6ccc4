package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kairo/internal/logging"
)

const telegramAPIBase = "https://api.telegram.org"

var winnerMessages = map[string]string{
	"ALIGN":    "Alignment proves fruitful",
	"REJECT":   "Rejection bears reward",
	"WITHHOLD": "Withholding from action becomes action in itself",
}

// Telegram posts announcements to a single chat through the bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegram builds a notifier for the given bot token and chat.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) AnnounceTransmission(ctx context.Context, cycleIndex int, transmission string) error {
	text := fmt.Sprintf("TRANSMISSION - CYCLE %d\n\n%s\n\n#KAIRO #CYCLE%d", cycleIndex, transmission, cycleIndex)
	return t.sendMessage(ctx, text)
}

func (t *Telegram) AnnounceWinner(ctx context.Context, cycleIndex int, option string) error {
	msg, ok := winnerMessages[option]
	if !ok {
		return fmt.Errorf("no winner message for option %q", option)
	}
	text := fmt.Sprintf("%s\n\n#KAIRO #CYCLE%d", msg, cycleIndex)
	return t.sendMessage(ctx, text)
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, string(body))
	}
	logging.Notify("posted %d chars to chat %s", len(text), t.chatID)
	return nil
}
