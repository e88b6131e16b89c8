package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier sends alerts through the Telegram Bot API. Info alerts
// are delivered silently; warning and critical alerts (guardrail halts,
// venue breaker trips) ring through.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier for the given bot token
// and target chat ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func levelBadge(l AlertLevel) string {
	switch l {
	case AlertCritical:
		return "🚨 CRITICAL"
	case AlertWarning:
		return "⚠️ WARNING"
	default:
		return "ℹ️ INFO"
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	var text strings.Builder
	fmt.Fprintf(&text, "%s \\| *%s*", escapeMarkdown(levelBadge(alert.Level)), escapeMarkdown(alert.Title))
	if alert.Message != "" {
		fmt.Fprintf(&text, "\n\n%s", escapeMarkdown(alert.Message))
	}

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":              t.chatID,
		"text":                 text.String(),
		"parse_mode":           "MarkdownV2",
		"disable_notification": alert.Level == AlertInfo,
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Bot API errors carry a human-readable description.
		var apiErr struct {
			Description string `json:"description"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Description != "" {
			return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, apiErr.Description)
		}
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

// escapeMarkdown escapes the characters Telegram MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(specials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
