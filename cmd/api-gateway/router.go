package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/dumeirei/room-rental-backend/internal/common/jwt"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	adminHandler "github.com/dumeirei/room-rental-backend/internal/handler/admin"
	bookingHandler "github.com/dumeirei/room-rental-backend/internal/handler/booking"
	paymentHandler "github.com/dumeirei/room-rental-backend/internal/handler/payment"
	roomHandler "github.com/dumeirei/room-rental-backend/internal/handler/room"
	"github.com/dumeirei/room-rental-backend/internal/middleware"
)

// 请求体上限（字节）
const maxRequestBodySize = 1 << 20

// 每分钟请求上限
const (
	publicRateLimit   = 60
	callbackRateLimit = 600
	userRateLimit     = 120
)

// setupRouter 设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
	m *metrics.Metrics,
	app *application,
) {
	// 创建 JWT 管理器
	jwtManager := jwt.NewManager(&jwt.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})

	// 初始化处理器
	bookingH := bookingHandler.NewBookingHandler(app.bookingSvc, app.tierSvc)
	roomH := roomHandler.NewRoomHandler(app.checker)
	paymentH := paymentHandler.NewHandler(app.paymentSvc, app.verifier, logger)
	adminBookingH := adminHandler.NewBookingHandler(app.bookingSvc, app.checker)
	adminTierH := adminHandler.NewPriceTierHandler(app.tierSvc)

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestSizeLimiter(maxRequestBodySize))
	r.Use(middleware.CORSFromConfig(&cfg.CORS))
	r.Use(middleware.Tracing(&middleware.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		SkipPaths:   []string{"/health", "/ping", "/ready", cfg.Metrics.Path},
	}))
	if cfg.Metrics.Enabled {
		r.Use(m.Middleware())
	}
	accessLog := middleware.DefaultLoggingConfig(logger)
	accessLog.SkipPaths = []string{cfg.Metrics.Path}
	accessLog.LogRequestBody = cfg.IsDebug()
	accessLog.LogResponseBody = cfg.IsDebug()
	r.Use(middleware.Logging(accessLog))

	// 健康检查（不需要认证）
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(db, redisClient))

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, m.Handler())
	}

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 公开接口（无需认证）
		public := v1.Group("")
		public.Use(middleware.IPRateLimit(redisClient, publicRateLimit, time.Minute))
		{
			// 邮件核验链接
			bookingH.RegisterPublicRoutes(public)
		}

		// 支付回调（需要验签，不需要认证）
		callback := v1.Group("")
		callback.Use(middleware.IPRateLimit(redisClient, callbackRateLimit, time.Minute))
		paymentH.RegisterCallbackRoutes(callback)

		// 用户端接口（需要用户认证）
		user := v1.Group("")
		user.Use(middleware.UserAuth(jwtManager))
		user.Use(middleware.UserRateLimit(redisClient, userRateLimit, time.Minute))
		{
			bookingH.RegisterRoutes(user)
			roomH.RegisterRoutes(user)
		}
	}

	// 管理后台 API（需要管理员认证）
	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminAuth(jwtManager))
	{
		adminBookingH.RegisterRoutes(admin)
		adminTierH.RegisterRoutes(admin)
		paymentH.RegisterAdminRoutes(admin)
	}

	// 404 处理
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})
}
