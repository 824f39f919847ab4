// Package airank narrows the candidate pool with a relaxed heuristic pass and
// asks an LLM to rank what is left.
package airank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Second
	cacheKeyPrefix = "paysync:airank:"
)

// The error text is surfaced to clients as ai_error.
var (
	ErrTimeout            = errors.New("timeout")
	ErrNotJSONArray       = errors.New("AI did not return a JSON array")
	ErrRequestFailed      = errors.New("ai request failed")
	ErrModelNotConfigured = errors.New("ai model not configured")
	ErrRateLimited        = errors.New("ai rate limited")
)

// Store caches serialized rankings.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Limiter bounds LLM calls per actor.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

type Options struct {
	DefaultModel string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

type RankRequest struct {
	Model        string
	BasePrompt   string
	CustomPrompt string
	Composite    domain.Composite
	Candidates   []Scored
	Subject      string
}

type Ranker struct {
	client  Client
	store   Store
	limiter Limiter
	opts    Options
	log     *zap.Logger
}

// NewRanker wires the gateway. store and limiter may be nil.
func NewRanker(client Client, store Store, limiter Limiter, opts Options, log *zap.Logger) *Ranker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ranker{
		client:  client,
		store:   store,
		limiter: limiter,
		opts:    opts,
		log:     log.Named("paymentsync.airank"),
	}
}

// Rank returns model rankings restricted to req.Candidates. A nil error with
// an empty slice means the model found nothing worth returning.
func (r *Ranker) Rank(ctx context.Context, req RankRequest) ([]Ranking, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(r.opts.DefaultModel)
	}
	if model == "" || r.client == nil {
		return nil, ErrModelNotConfigured
	}
	if len(req.Candidates) == 0 {
		return []Ranking{}, nil
	}

	completion, err := BuildPrompt(model, req.BasePrompt, req.CustomPrompt, req.Composite, req.Candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	allowed := IDs(req.Candidates)
	key := cacheKey(completion)

	if cached, ok := r.fromCache(ctx, key, allowed); ok {
		return cached, nil
	}

	if r.limiter != nil {
		ok, err := r.limiter.Allow(ctx, req.Subject)
		if err != nil {
			r.log.Warn("ai rate limiter unavailable", zap.Error(err))
		} else if !ok {
			return nil, ErrRateLimited
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	started := time.Now()
	text, err := r.client.Complete(callCtx, completion)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	r.log.Debug("ai completion received",
		zap.String("model", model),
		zap.Int("candidates", len(req.Candidates)),
		zap.Duration("elapsed", time.Since(started)),
	)

	rankings, err := ParseRankings(text, allowed)
	if err != nil {
		return nil, err
	}
	r.toCache(ctx, key, rankings)
	return rankings, nil
}

func (r *Ranker) fromCache(ctx context.Context, key string, allowed map[int64]struct{}) ([]Ranking, bool) {
	if r.store == nil {
		return nil, false
	}
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warn("ai cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cached []Ranking
	if err := json.Unmarshal(raw, &cached); err != nil {
		r.log.Warn("ai cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	out := cached[:0]
	for _, item := range cached {
		if _, ok := allowed[item.DBID]; ok {
			out = append(out, item)
		}
	}
	return out, true
}

func (r *Ranker) toCache(ctx context.Context, key string, rankings []Ranking) {
	if r.store == nil || r.opts.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(rankings)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, key, raw, r.opts.CacheTTL); err != nil {
		r.log.Warn("ai cache write failed", zap.Error(err))
	}
}

func cacheKey(c Completion) string {
	h := sha256.New()
	for _, part := range []string{c.Model, c.System, c.User} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
