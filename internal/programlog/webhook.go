// Package programlog posts administrative economy events to the guild's program-log
// channel through a Discord webhook.
package programlog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildbank/internal/economy"
)

type Webhook struct {
	session  *discordgo.Session
	id       string
	token    string
	username string
}

var _ economy.Notifier = (*Webhook)(nil)

// NewWebhook parses a https://discord.com/api/webhooks/{id}/{token} URL.
func NewWebhook(rawURL, username string) (*Webhook, error) {
	id, token, err := parseWebhookURL(rawURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: 10 * time.Second}
	if username == "" {
		username = "guildbank"
	}
	return &Webhook{session: session, id: id, token: token, username: username}, nil
}

func (w *Webhook) Notify(ctx context.Context, e economy.Event) error {
	_, err := w.session.WebhookExecute(w.id, w.token, false, &discordgo.WebhookParams{
		Content:         Format(e),
		Username:        w.username,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("execute webhook: %w", err)
	}
	return nil
}

// Format renders e as a single program-log line.
func Format(e economy.Event) string {
	var b strings.Builder
	switch e.Action {
	case "pool.create":
		fmt.Fprintf(&b, "Pool %s created", e.Subject)
	case "pool.edit":
		fmt.Fprintf(&b, "Pool %s edited", e.Subject)
	case "pool.delete":
		fmt.Fprintf(&b, "Pool %s deleted", e.Subject)
	case "pool.role.add":
		fmt.Fprintf(&b, "%s added to pool `%s`", capitalize(e.Detail), e.Subject)
	case "pool.role.remove":
		fmt.Fprintf(&b, "%s removed from pool `%s`", capitalize(e.Detail), e.Subject)
	case "reputation.adjust":
		fmt.Fprintf(&b, "Reputation of %s adjusted", e.Subject)
	default:
		fmt.Fprintf(&b, "%s on %s", e.Action, e.Subject)
	}
	fmt.Fprintf(&b, " by <@%d>.", e.Actor)
	if e.Detail != "" && !strings.HasPrefix(e.Action, "pool.role.") {
		b.WriteString(" ")
		b.WriteString(capitalize(e.Detail))
		b.WriteString(".")
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// .../webhooks/{id}/{token}
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url must contain /webhooks/{id}/{token}")
}
