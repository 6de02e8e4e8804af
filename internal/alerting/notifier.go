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

	"hyperstats/internal/alerts"
	"hyperstats/internal/signals"
)

// DeliveryError wraps a sink failure. The engine logs it and drops the
// record; evaluator state is never affected.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier delivers fired-alert records to subscribers.
type Notifier interface {
	Deliver(ctx context.Context, alert alerts.FiredAlert) error
}

// TelegramNotifier pushes alert records through the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram sink.
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Deliver posts the rendered alert via sendMessage.
func (n *TelegramNotifier) Deliver(ctx context.Context, alert alerts.FiredAlert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderAlert(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Channel: "telegram", Err: fmt.Errorf("marshal payload: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: "telegram", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: "telegram", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Channel: "telegram", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return &DeliveryError{Channel: "telegram", Err: fmt.Errorf("telegram returned ok=false")}
		}
	}

	n.logger.Info().
		Int64("condition_id", alert.ConditionID).
		Str("asset", alert.Asset).
		Str("kind", string(alert.Kind)).
		Msg("alert delivered")
	return nil
}

func renderAlert(alert alerts.FiredAlert) string {
	builder := strings.Builder{}
	builder.WriteString("[hyperstats Alert]\n")
	builder.WriteString(fmt.Sprintf("Kind: %s\n", alert.Kind))
	if alert.Asset != "" {
		builder.WriteString(fmt.Sprintf("Asset: %s\n", alert.Asset))
	}
	switch alert.Kind {
	case alerts.KindFunding:
		builder.WriteString(fmt.Sprintf("Rate: %.6f (annualized %.2f%%)\n", alert.ObservedValue, signals.AnnualizeFunding(alert.ObservedValue)))
	case alerts.KindVolume:
		builder.WriteString(fmt.Sprintf("Spike: %.2fx trailing average\n", alert.ObservedValue))
	case alerts.KindLiquidation:
		builder.WriteString(fmt.Sprintf("Largest cascade: %.0f liquidations\n", alert.ObservedValue))
	default:
		builder.WriteString(fmt.Sprintf("Observed: %.4f\n", alert.ObservedValue))
	}
	builder.WriteString(fmt.Sprintf("Threshold: %s %.6f\n", alert.Comparison, alert.Threshold))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", alert.FiredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
