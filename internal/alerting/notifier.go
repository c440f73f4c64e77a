package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bias-aggregator/internal/logging"
	"bias-aggregator/internal/score"
)

// Notification describes a change of a symbol's composite direction.
type Notification struct {
	Symbol     string
	Version    string
	Previous   score.Direction
	Direction  score.Direction
	Percentage decimal.Decimal
	Score      decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
	At         time.Time
}

// Notifier delivers direction-change notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Notify calls the sendMessage API with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("symbol", note.Symbol).
		Str("direction", string(note.Direction)).
		Str("previous", string(note.Previous)).
		Msg("direction change sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Bias] %s %s\n", note.Symbol, note.Direction))
	if note.Previous != "" {
		builder.WriteString(fmt.Sprintf("Previous: %s\n", note.Previous))
	}
	builder.WriteString(fmt.Sprintf("Bias: %s%%\n", note.Percentage.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Score: %s in [%s, %s]\n", note.Score.String(), note.Min.String(), note.Max.String()))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.Version != "" {
		builder.WriteString(fmt.Sprintf("Version: %s", note.Version))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
