package ratelimit

import "go.uber.org/fx"

// Module provides the Redis-backed AI ranker limiter. Without a Redis client
// the limiter is nil and every call is allowed.
var Module = fx.Module("ratelimit",
	fx.Provide(NewAILimiterFromConfig),
)
