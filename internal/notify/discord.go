package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"lol-match-alerts/internal/config"
)

// discordEmbed is the subset of the webhook embed schema in use.
type discordEmbed struct {
	Title     string              `json:"title"`
	Desc      string              `json:"description"`
	Color     int                 `json:"color"`
	Timestamp string              `json:"timestamp"`
	Fields    []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

const embedColorGold = 0xC8AA6E

// DiscordNotifier posts fired rules to a Discord webhook.
type DiscordNotifier struct {
	httpClient *http.Client
	webhookURL string
	logger     zerolog.Logger
}

// NewDiscordNotifier constructs a notifier from configuration.
func NewDiscordNotifier(cfg config.DiscordConfig, logger zerolog.Logger) *DiscordNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{
		httpClient: &http.Client{Timeout: timeout},
		webhookURL: cfg.WebhookURL,
		logger:     logger.With().Str("component", "discord_notifier").Logger(),
	}
}

// Notify delivers one notification as an embed.
func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:     n.RuleName,
			Desc:      n.Message,
			Color:     embedColorGold,
			Timestamp: n.FiredAt.UTC().Format(time.RFC3339),
			Fields: []discordEmbedField{
				{Name: "Player", Value: n.Player, Inline: true},
				{Name: "Value", Value: n.Value, Inline: true},
				{Name: "Match", Value: n.MatchID, Inline: true},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, snippet)
	}

	d.logger.Debug().
		Str("rule", n.RuleID).
		Str("player", n.Player).
		Msg("notification delivered")
	return nil
}

var _ Notifier = (*DiscordNotifier)(nil)
