package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultSlackURL = "https://slack.com/api/chat.postMessage"

var ErrEmptyChannel = errors.New("notify channel is empty")

type SlackConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// SlackProvider posts messages through the Slack Web API.
type SlackProvider struct {
	token  string
	url    string
	client *http.Client
}

func NewSlack(cfg SlackConfig) *SlackProvider {
	url := strings.TrimSpace(cfg.BaseURL)
	if url == "" {
		url = defaultSlackURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackProvider{
		token:  strings.TrimSpace(cfg.Token),
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type slackMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (p *SlackProvider) Notify(ctx context.Context, channel string, message string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ErrEmptyChannel
	}

	body, err := json.Marshal(slackMessage{Channel: channel, Text: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack post: status %d", resp.StatusCode)
	}
	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("slack post: decode: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("slack post: %s", out.Error)
	}
	return nil
}
