package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/donaldgifford/price-watch/internal/metrics"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const (
	colorGreen = 0x2ECC71 // price drop
	colorGold  = 0xFFD700 // target reached
	colorBlue  = 0x3498DB // anything else
)

// maxEmbeds is Discord's per-message embed limit.
const maxEmbeds = 10

// DiscordNotifier implements Notifier via Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a new DiscordNotifier.
func NewDiscordNotifier(webhookURL string, opts ...DiscordOption) *DiscordNotifier {
	d := &DiscordNotifier{
		webhookURL: webhookURL,
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscordOption configures a DiscordNotifier.
type DiscordOption func(*DiscordNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) DiscordOption {
	return func(d *DiscordNotifier) {
		d.client = c
	}
}

// discordWebhookPayload is the Discord webhook JSON structure.
type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Description string              `json:"description,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordFooter      `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// SendAlert sends a single alert as a Discord embed.
func (d *DiscordNotifier) SendAlert(ctx context.Context, alert *AlertPayload) error {
	payload := discordWebhookPayload{
		Embeds: []discordEmbed{buildEmbed(alert)},
	}
	return d.post(ctx, payload)
}

// SendBatchAlert sends multiple alerts for one product as a single message.
func (d *DiscordNotifier) SendBatchAlert(
	ctx context.Context,
	alerts []AlertPayload,
	productName string,
) error {
	limit := min(len(alerts), maxEmbeds)
	embeds := make([]discordEmbed, 0, limit+1)
	for i := range limit {
		embeds = append(embeds, buildEmbed(&alerts[i]))
	}

	if len(alerts) > maxEmbeds {
		embeds = append(embeds, discordEmbed{
			Title:       fmt.Sprintf("... and %d more changes for %s", len(alerts)-maxEmbeds, productName),
			Color:       colorBlue,
			Description: "See the event history for the full list.",
		})
	}

	return d.post(ctx, discordWebhookPayload{Embeds: embeds})
}

// SendTest posts a fixed embed to verify the webhook.
func (d *DiscordNotifier) SendTest(ctx context.Context) error {
	return d.post(ctx, discordWebhookPayload{Embeds: []discordEmbed{{
		Title:       "price-watch test",
		Description: "Discord notifications are working.",
		Color:       colorGreen,
	}}})
}

func buildEmbed(alert *AlertPayload) discordEmbed {
	fields := []discordEmbedField{
		{Name: "Product", Value: alert.ProductName, Inline: false},
	}
	if alert.OldPrice != nil {
		fields = append(fields, discordEmbedField{
			Name: "Previous price", Value: "~~" + FormatPrice(alert.OldPrice, alert.Currency) + "~~", Inline: true,
		})
	}
	fields = append(fields, discordEmbedField{
		Name: "New price", Value: "**" + FormatPrice(alert.NewPrice, alert.Currency) + "**", Inline: true,
	})
	if change := alert.Change(); change != "" {
		fields = append(fields, discordEmbedField{Name: "Change", Value: change, Inline: true})
	}
	if alert.TargetPrice != nil {
		status := FormatPrice(alert.TargetPrice, alert.Currency)
		if alert.TargetReached {
			status = "Reached"
		}
		fields = append(fields, discordEmbedField{Name: "Target price", Value: status, Inline: true})
	}

	embed := discordEmbed{
		Title:  alert.Title(),
		URL:    alert.ProductURL,
		Color:  alertColor(alert),
		Fields: fields,
		Footer: &discordFooter{Text: "price-watch"},
	}
	if !alert.ChangedAt.IsZero() {
		embed.Timestamp = alert.ChangedAt.UTC().Format(time.RFC3339)
	}
	return embed
}

func alertColor(alert *AlertPayload) int {
	switch {
	case alert.Kind == domain.ChangePriceDrop:
		return colorGreen
	case alert.TargetReached:
		return colorGold
	default:
		return colorBlue
	}
}

func (d *DiscordNotifier) post(ctx context.Context, payload discordWebhookPayload) error {
	start := time.Now()
	defer func() {
		metrics.NotificationDuration.WithLabelValues("discord").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.webhookURL,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("discord rate limited (429)")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("discord returned %d (body unreadable)", resp.StatusCode)
		}
		return fmt.Errorf("discord returned %d: %s", resp.StatusCode, respBody)
	}

	return nil
}
