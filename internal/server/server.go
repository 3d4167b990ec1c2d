package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
	"github.com/smallbiznis/tithi/internal/config"
	"github.com/smallbiznis/tithi/internal/dispatcher"
	giftcarddomain "github.com/smallbiznis/tithi/internal/giftcard/domain"
	"github.com/smallbiznis/tithi/internal/idempotency"
	"github.com/smallbiznis/tithi/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *observability.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(observability.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, httpMetrics *observability.HTTPMetrics) *gin.Engine {
	return NewEngine(log, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	bookingSvc  bookingdomain.Service
	giftcardSvc giftcarddomain.Service
	idemSvc     idempotency.Service
	auditSvc    auditdomain.Service
	dispatcher  *dispatcher.Dispatcher
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	BookingSvc  bookingdomain.Service
	GiftCardSvc giftcarddomain.Service
	IdemSvc     idempotency.Service
	AuditSvc    auditdomain.Service
	Dispatcher  *dispatcher.Dispatcher
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		bookingSvc:  p.BookingSvc,
		giftcardSvc: p.GiftCardSvc,
		idemSvc:     p.IdemSvc,
		auditSvc:    p.AuditSvc,
		dispatcher:  p.Dispatcher,
	}

	svc.registerV1Routes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// idempotent guards a mutating route with the idempotency contract under
// a stable logical route name. Error rendering sits inside the guard so
// mapped failures (declines included) are captured and replayed verbatim.
func (s *Server) idempotent(route string, handler gin.HandlerFunc) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		idempotency.Middleware(s.idemSvc, s.log, route),
		ErrorHandlingMiddleware(),
		handler,
	}
}

func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.BusinessRequired())

	bookings := v1.Group("/bookings")
	{
		bookings.POST("/:id/complete", s.idempotent("bookings.complete", s.CompleteBooking)...)
		bookings.POST("/:id/no-show", s.idempotent("bookings.no_show", s.NoShowBooking)...)
		bookings.POST("/:id/cancel", s.idempotent("bookings.cancel", s.CancelBooking)...)
		bookings.POST("/:id/refund", s.idempotent("bookings.refund", s.RefundBooking)...)
		bookings.GET("/:id/payments", s.ListBookingPayments)
	}

	giftcards := v1.Group("/gift-cards")
	{
		giftcards.GET("/:code", s.GetGiftCard)
		giftcards.POST("/:code/adjust", s.idempotent("gift_cards.adjust", s.AdjustGiftCard)...)
	}
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/v1/internal")
	internal.Use(s.DispatchAuthRequired())

	internal.POST("/notifications/dispatch", s.RunDispatchPass)
}
