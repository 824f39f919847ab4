package notify

import (
	"github.com/andyvauliln/paysync/internal/audit/masking"
	"github.com/andyvauliln/paysync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.notify",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a Slack provider when a bot token is configured.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Notify.SlackBotToken == "" {
		return &NoOpProvider{}
	}
	log.Info("slack notifications enabled",
		zap.String("channel", cfg.Notify.Channel),
		zap.String("token", masking.MaskSecret(cfg.Notify.SlackBotToken)),
	)
	return NewSlack(SlackConfig{Token: cfg.Notify.SlackBotToken})
}
