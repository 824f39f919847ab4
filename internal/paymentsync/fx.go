package paymentsync

import (
	"github.com/andyvauliln/paysync/internal/audit/masking"
	"github.com/andyvauliln/paysync/internal/cache"
	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/paymentsync/airank"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/service"
	"github.com/andyvauliln/paysync/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("paymentsync",
	fx.Provide(
		provideScorerSource,
		provideRanker,
		service.NewCommitHooks,
		service.NewService,
		func(s *service.Service) domain.Service { return s },
	),
)

func provideScorerSource(h *config.ScoringConfigHolder) service.ScorerSource {
	return h
}

type rankerParams struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Store   cache.Store          `optional:"true"`
	Limiter *ratelimit.AILimiter `optional:"true"`
}

// provideRanker returns nil when no LLM endpoint is configured. Match then
// reports "ai model not configured" for the AI branch.
func provideRanker(p rankerParams) *airank.Ranker {
	ai := p.Config.AI
	if ai.APIKey == "" && ai.BaseURL == "" {
		p.Log.Info("ai ranking disabled")
		return nil
	}
	p.Log.Info("ai ranking enabled",
		zap.String("base_url", ai.BaseURL),
		zap.String("model", ai.Model),
		zap.String("api_key", masking.MaskSecret(ai.APIKey)),
	)

	var limiter airank.Limiter
	if p.Limiter.Enabled() {
		limiter = p.Limiter
	}
	var store airank.Store
	if p.Store != nil {
		store = p.Store
	}
	return airank.NewRanker(
		airank.NewOpenAIClient(airank.OpenAIConfig{BaseURL: ai.BaseURL, APIKey: ai.APIKey}),
		store,
		limiter,
		airank.Options{DefaultModel: ai.Model, Timeout: ai.Timeout, CacheTTL: ai.CacheTTL},
		p.Log,
	)
}
