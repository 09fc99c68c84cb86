package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured. Safe on a nil
// notifier so callers without a webhook can skip the nil checks.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// NotifyInterviewCompleted announces that a candidate finished their
// interview.
func (d *Discord) NotifyInterviewCompleted(interviewID, recruiterID string) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Interview completed",
			Description: "A candidate has finished their interview.",
			Color:       0x00FF00, // Green
			Fields: []embedField{
				{Name: "Interview", Value: fmt.Sprintf("`%s`", interviewID), Inline: true},
				{Name: "Recruiter", Value: fmt.Sprintf("`%s`", recruiterID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(context.Background(), msg)
}

// NotifyInterviewAbandoned announces that a candidate dropped out before
// answering the last question.
func (d *Discord) NotifyInterviewAbandoned(interviewID, recruiterID string) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Interview abandoned",
			Description: "A candidate disconnected before finishing.",
			Color:       0xFFA500, // Orange
			Fields: []embedField{
				{Name: "Interview", Value: fmt.Sprintf("`%s`", interviewID), Inline: true},
				{Name: "Recruiter", Value: fmt.Sprintf("`%s`", recruiterID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(context.Background(), msg)
}
