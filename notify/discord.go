package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const embedColorTwitchPurple = 0x9146FF

// WebhookSink posts a rich embed to a Discord webhook for every go-live
// event. A nil HTTPClient falls back to http.DefaultClient.
type WebhookSink struct {
	URL        string
	HTTPClient *http.Client
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title     string       `json:"title"`
	URL       string       `json:"url,omitempty"`
	Color     int          `json:"color"`
	Timestamp string       `json:"timestamp"`
	Author    *embedAuthor `json:"author,omitempty"`
	Thumbnail *embedMedia  `json:"thumbnail,omitempty"`
	Fields    []embedField `json:"fields,omitempty"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedMedia struct {
	URL string `json:"url"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Notify posts the embed. Non-2xx responses are returned as errors with the
// response body included for diagnosis.
func (w *WebhookSink) Notify(ctx context.Context, n Notification) error {
	channelURL := "https://www.twitch.tv/" + n.UserLogin
	e := embed{
		Title:     fmt.Sprintf("%s is live on Twitch", n.UserName),
		URL:       channelURL,
		Color:     embedColorTwitchPurple,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Author: &embedAuthor{
			Name:    n.UserName,
			URL:     channelURL,
			IconURL: "https://avatar.glue-bot.xyz/twitch/" + n.UserLogin,
		},
	}
	if n.GameName != "" {
		e.Thumbnail = &embedMedia{
			URL: "https://avatar-resolver.vercel.app/twitch-boxart/" + url.PathEscape(n.GameName),
		}
	}
	title := n.Title
	if title == "" {
		title = "No Title"
	}
	game := n.GameName
	if game == "" {
		game = "No Game"
	}
	e.Fields = []embedField{
		{Name: "Title", Value: title},
		{Name: "Game", Value: game, Inline: true},
	}

	body, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
