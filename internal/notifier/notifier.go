// Package notifier delivers run-completion notices. Delivery failures are the
// caller's to log and swallow; they must never abort a drain.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/italolelis/discord_archiver/internal/platform"
)

// Notifier is a broadcast sink for run summaries (e.g. an ops webhook).
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// DirectNotifier delivers a run summary to a specific user.
type DirectNotifier interface {
	NotifyUser(ctx context.Context, userID, content string) error
}

// PlatformNotifier sends direct messages through the chat platform.
type PlatformNotifier struct {
	Messenger platform.Messenger
}

func (n *PlatformNotifier) NotifyUser(ctx context.Context, userID, content string) error {
	return n.Messenger.DirectMessage(ctx, userID, content)
}

// DiscordNotifier posts to a Discord webhook.
type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
