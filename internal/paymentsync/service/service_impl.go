package service

import (
	"context"

	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/observability/metrics"
	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/airank"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
	"github.com/andyvauliln/paysync/internal/paymentsync/window"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultTopN = 15
	MaxTopN     = 100
)

// ScorerSource hands out the scorer for the current weights. The config
// holder swaps weights on reload, so callers fetch it once per request.
type ScorerSource interface {
	Scorer() scoring.Scorer
}

type staticScorer struct{ s scoring.Scorer }

func (s staticScorer) Scorer() scoring.Scorer { return s.s }

// StaticScorer pins a scorer, mostly for tests and tools.
func StaticScorer(w scoring.Weights) ScorerSource {
	return staticScorer{s: scoring.New(w)}
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config `optional:"true"`
	Repo    paymentdomain.Repository
	Scoring ScorerSource
	Ranker  *airank.Ranker            `optional:"true"`
	Trace   tracelog.Sink             `optional:"true"`
	Clock   clock.Clock               `optional:"true"`
	Metrics *metrics.ReconcileMetrics `optional:"true"`
	OTel    *metrics.Metrics          `optional:"true"`
	Hooks   []domain.CommitHook       `optional:"true"`
	NewRID  func() string             `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       paymentdomain.Repository
	selector   *window.Selector
	scoring    ScorerSource
	ranker     *airank.Ranker
	trace      tracelog.Sink
	clock      clock.Clock
	metrics    *metrics.ReconcileMetrics
	otel       *metrics.Metrics
	hooks      []domain.CommitHook
	newRID     func() string
	prefilterK int
	tracer     trace.Tracer
}

func NewService(p Params) *Service {
	svc := &Service{
		db:         p.DB,
		log:        p.Log.Named("paymentsync.service"),
		repo:       p.Repo,
		selector:   window.NewSelector(p.Repo),
		scoring:    p.Scoring,
		ranker:     p.Ranker,
		trace:      p.Trace,
		clock:      p.Clock,
		metrics:    p.Metrics,
		otel:       p.OTel,
		hooks:      p.Hooks,
		newRID:     p.NewRID,
		prefilterK: p.Config.AI.PrefilterK,
		tracer:     otel.Tracer("paysync/paymentsync"),
	}
	if svc.trace == nil {
		svc.trace = tracelog.Nop{}
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}
	if svc.newRID == nil {
		svc.newRID = func() string { return ulid.Make().String() }
	}
	if svc.prefilterK <= 0 {
		svc.prefilterK = airank.DefaultTopK
	}
	return svc
}

var _ domain.Service = (*Service)(nil)

func (s *Service) step(ctx context.Context, rid, step string, actor domain.Actor, payload map[string]any, err error) {
	ev := tracelog.Event{
		RID:     rid,
		Step:    step,
		Actor:   actor.Subject(),
		Payload: payload,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.trace.Append(ctx, ev)
}
