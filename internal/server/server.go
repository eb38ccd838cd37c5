// Package server exposes the payment and subscription HTTP surface.
package server

import (
	"context"
	"net/http"
	"time"

	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	"github.com/dukapos/dukapos/internal/config"
	"github.com/dukapos/dukapos/internal/ingest"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/scheduler"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
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
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	activationSvc   activationdomain.Service
	processor       *ingest.Processor
	scheduler       *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	ActivationSvc   activationdomain.Service
	Processor       *ingest.Processor
	Scheduler       *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("server"),
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		activationSvc:   p.ActivationSvc,
		processor:       p.Processor,
		scheduler:       p.Scheduler,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Subscriptions --------
	api.POST("/subscriptions/initiate", s.InitiateSubscription)
	api.POST("/subscriptions/:id/receipt", s.RecordReceipt)
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	// -------- Payments --------
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:correlation_id/status", s.GetPaymentStatus)

	// -------- Webhooks --------
	api.POST("/webhooks/mpesa", s.HandleMpesaWebhook)

	// -------- Admin --------
	api.POST("/admin/reconcile", s.TriggerReconcile)
}
