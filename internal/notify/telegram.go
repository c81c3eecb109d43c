// Package notify delivers best-effort trade notifications.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
)

// Notifier announces trading events. Implementations never block order flow
// and never surface delivery failures to callers.
type Notifier interface {
	NotifySignal(ctx context.Context, signal schema.Signal, targets int)
	NotifyOrder(ctx context.Context, signal schema.Signal, result schema.OrderResult, execErr error)
	NotifyEmergencyStop(ctx context.Context, reason string)
}

// Noop discards every notification.
type Noop struct{}

// NotifySignal implements Notifier.
func (Noop) NotifySignal(context.Context, schema.Signal, int) {}

// NotifyOrder implements Notifier.
func (Noop) NotifyOrder(context.Context, schema.Signal, schema.OrderResult, error) {}

// NotifyEmergencyStop implements Notifier.
func (Noop) NotifyEmergencyStop(context.Context, string) {}

// Telegram posts notifications to a chat through the Bot API.
type Telegram struct {
	token      string
	chatID     string
	httpClient *http.Client
	baseURL    string
}

// New constructs a Telegram notifier. Returns Noop when credentials are
// missing so callers never branch on configuration.
func New(cfg config.NotifySettings) Notifier {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return Noop{}
	}
	return &Telegram{
		token:      cfg.TelegramBotToken,
		chatID:     cfg.TelegramChatID,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    "https://api.telegram.org",
	}
}

// NotifySignal announces an accepted signal and its fanout width.
func (t *Telegram) NotifySignal(ctx context.Context, signal schema.Signal, targets int) {
	t.send(ctx, fmt.Sprintf("signal %s %s lev=%d accounts=%d",
		signal.Direction, signal.Symbol, signal.Leverage, targets))
}

// NotifyOrder announces one account's order outcome.
func (t *Telegram) NotifyOrder(ctx context.Context, signal schema.Signal, result schema.OrderResult, execErr error) {
	switch {
	case execErr != nil:
		t.send(ctx, fmt.Sprintf("FAILED account=%d %s %s %s: %v",
			result.AccountIndex, result.Side, result.Quantity, result.Symbol, execErr))
	case !result.Confirmed:
		t.send(ctx, fmt.Sprintf("UNCONFIRMED account=%d %s %s %s position=%s",
			result.AccountIndex, result.Side, result.Quantity, result.Symbol, result.Position))
	default:
		t.send(ctx, fmt.Sprintf("filled account=%d %s %s %s position=%s",
			result.AccountIndex, result.Side, result.Quantity, result.Symbol, result.Position))
	}
}

// NotifyEmergencyStop announces that the kill switch halted trading.
func (t *Telegram) NotifyEmergencyStop(ctx context.Context, reason string) {
	t.send(ctx, fmt.Sprintf("EMERGENCY STOP: %s", reason))
}

func (t *Telegram) send(ctx context.Context, text string) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		observability.Log().Warn("telegram delivery failed",
			observability.F("error", err.Error()))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		observability.Log().Warn("telegram rejected message",
			observability.F("status", resp.StatusCode))
	}
}
