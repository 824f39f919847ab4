package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andyvauliln/paysync/internal/audit"
	auditdomain "github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/andyvauliln/paysync/internal/authorization"
	"github.com/andyvauliln/paysync/internal/cache"
	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/observability"
	obsmiddleware "github.com/andyvauliln/paysync/internal/observability/logger"
	obsmetrics "github.com/andyvauliln/paysync/internal/observability/metrics"
	obstracing "github.com/andyvauliln/paysync/internal/observability/tracing"
	"github.com/andyvauliln/paysync/internal/payment"
	"github.com/andyvauliln/paysync/internal/paymentsync"
	paymentsyncdomain "github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/providers"
	"github.com/andyvauliln/paysync/internal/ratelimit"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	cache.Module,
	ratelimit.Module,
	providers.Module,
	tracelog.Module,
	payment.Module,
	paymentsync.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type engineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.HTTPMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	syncSvc     paymentsyncdomain.Service
	traceReader TraceReader
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	AuthzSvc authorization.Service
	AuditSvc auditdomain.Service
	SyncSvc  paymentsyncdomain.Service
	Trace    *tracelog.Writer `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http.server"),
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		syncSvc:     p.SyncSvc,
		traceReader: NewFileTraceReader(p.Trace),
	}

	svc.registerPaymentSyncRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPaymentSyncRoutes() {
	group := s.engine.Group("/payments-sync-v2", s.ActorRequired())

	group.POST("/match-selection/", s.authorize(authorization.ObjectPaymentSync, authorization.ActionPaymentSyncMatch), s.MatchSelection)
	group.POST("/update/", s.authorize(authorization.ObjectPaymentSync, authorization.ActionPaymentSyncCommit), s.CommitMerges)
	group.GET("/trace/:rid", s.authorize(authorization.ObjectPaymentSync, authorization.ActionPaymentSyncTrace), s.GetTrace)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.ActorRequired())

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
