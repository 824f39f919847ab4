package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andyvauliln/paysync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlackNotifyPostsMessage(t *testing.T) {
	var got slackMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := NewSlack(SlackConfig{Token: "xoxb-test", BaseURL: srv.URL})
	require.NoError(t, p.Notify(context.Background(), "#payments", "3 payments merged"))
	assert.Equal(t, "Bearer xoxb-test", auth)
	assert.Equal(t, slackMessage{Channel: "#payments", Text: "3 payments merged"}, got)
}

func TestSlackNotifyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	p := NewSlack(SlackConfig{Token: "t", BaseURL: srv.URL})
	err := p.Notify(context.Background(), "#nope", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")

	assert.ErrorIs(t, p.Notify(context.Background(), " ", "x"), ErrEmptyChannel)
}

func TestNewFromConfig(t *testing.T) {
	assert.IsType(t, &NoOpProvider{}, NewFromConfig(config.Config{}, zap.NewNop()))

	cfg := config.Config{Notify: config.NotifyConfig{SlackBotToken: "xoxb"}}
	assert.IsType(t, &SlackProvider{}, NewFromConfig(cfg, zap.NewNop()))
}
