package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWebhook posts beacons to per-channel webhook URLs over plain HTTP,
// the concrete Webhook port implementation used outside of tests.
type HTTPWebhook struct {
	client    *http.Client
	urlFor    func(channelID string) (string, bool)
}

// DiscordWebhookURL resolves channelID of the form "webhookID:webhookToken"
// into a Discord webhook endpoint. This is the default urlFor used in
// production, where the gateway encodes the webhook handle it already
// holds into the channel_id field of the beacon request.
func DiscordWebhookURL(channelID string) (string, bool) {
	for i := 0; i < len(channelID); i++ {
		if channelID[i] == ':' {
			return fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", channelID[:i], channelID[i+1:]), true
		}
	}
	return "", false
}

// NewHTTPWebhook constructs an HTTPWebhook. urlFor resolves a channel id
// to its webhook URL (false if the gateway has never registered one for
// that channel).
func NewHTTPWebhook(urlFor func(channelID string) (string, bool)) *HTTPWebhook {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPWebhook{
		client: &http.Client{Transport: transport},
		urlFor: urlFor,
	}
}

type webhookPayload struct {
	Content   string `json:"content"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Send posts content to the webhook URL registered for channelID.
func (h *HTTPWebhook) Send(ctx context.Context, channelID string, identity Identity, content string) error {
	url, ok := h.urlFor(channelID)
	if !ok {
		return ErrInvalidWebhook
	}

	body, err := json.Marshal(webhookPayload{
		Content:   content,
		Username:  identity.Name,
		AvatarURL: identity.AvatarURL,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return ErrInvalidWebhook
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook dispatch failed with status %d", resp.StatusCode)
	}
	return nil
}
