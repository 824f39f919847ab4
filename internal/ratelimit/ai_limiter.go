package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const keyAIRank = "paysync:airank:rate:%s"

// AILimiter bounds LLM ranking calls per actor with a token bucket that
// refills ratePerMinute tokens every minute.
type AILimiter struct {
	bucket  *TokenBucket
	rate    float64
	burst   int
	metrics *metrics.Metrics
}

func NewAILimiter(client *redis.Client, ratePerMinute int) *AILimiter {
	if client == nil || ratePerMinute <= 0 {
		return nil
	}
	return &AILimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(ratePerMinute) / 60,
		burst:  ratePerMinute,
	}
}

type Params struct {
	fx.In

	Config  config.Config
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

func NewAILimiterFromConfig(p Params) *AILimiter {
	l := NewAILimiter(p.Redis, p.Config.AI.RatePerMinute)
	if l != nil {
		l.metrics = p.Metrics
	}
	return l
}

func (l *AILimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether subject may issue another LLM call. A disabled
// limiter allows everything.
func (l *AILimiter) Allow(ctx context.Context, subject string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyAIRank, subject), l.rate, l.burst)
	if err != nil {
		return false, err
	}
	if res.Allowed {
		l.metrics.RecordAIRateLimit(ctx, true, "")
	} else {
		l.metrics.RecordAIRateLimit(ctx, false, "bucket_empty")
	}
	return res.Allowed, nil
}
