package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/smallbiznis/etimsbridge/internal/observability"
	obsmiddleware "github.com/smallbiznis/etimsbridge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	obstracing "github.com/smallbiznis/etimsbridge/internal/observability/tracing"
	"github.com/smallbiznis/etimsbridge/internal/ratelimit"
	"github.com/smallbiznis/etimsbridge/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	documents domain.Service
	limiter   merchantLimiter
	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Documents domain.Service
	Limiter   *ratelimit.MerchantLimiter `optional:"true"`
	Scheduler *scheduler.Scheduler       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http"),
		documents: p.Documents,
		scheduler: p.Scheduler,
	}
	if p.Limiter.Enabled() {
		svc.limiter = p.Limiter
	}
	svc.registerAPIRoutes()
	svc.registerDevRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(MerchantContext())

	// -------- Documents --------
	api.POST("/documents", s.MerchantRateLimit(), s.CreateDocument)
	api.GET("/documents", s.ListDocuments)
	api.GET("/documents/:id", s.GetDocumentByID)
	api.GET("/documents/:id/events", s.ListDocumentEvents)
	api.GET("/documents/:id/report", s.GetSaleReport)

	// -------- Lifecycle --------
	api.POST("/documents/:id/validate", s.ValidateDocument)
	api.POST("/documents/:id/prepare", s.PrepareDocument)
	api.POST("/documents/:id/submit", s.MerchantRateLimit(), s.SubmitDocument)
	api.POST("/documents/:id/cancel", s.CancelDocument)
	api.POST("/documents/:id/retry", s.RetryDocument)
	api.POST("/documents/:id/abandon", s.AbandonDocument)

	// -------- Credit notes --------
	api.POST("/credit-notes", s.MerchantRateLimit(), s.CreateCreditNote)
}

// registerDevRoutes exposes manual scheduler triggers outside production.
func (s *Server) registerDevRoutes() {
	if s.cfg.IsProduction() || s.scheduler == nil {
		return
	}

	dev := s.engine.Group("/dev/scheduler")
	dev.POST("/run-once", s.DevRunSchedulerOnce)
	dev.POST("/retry", s.DevRunRetrySubmissions)
	dev.POST("/recovery", s.DevRunRecoverySweep)
	dev.POST("/stuck", s.DevRunStuckSubmissions)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
