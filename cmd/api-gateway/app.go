package main

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/scheduler"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
	bookingService "github.com/dumeirei/room-rental-backend/internal/service/booking"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	paymentService "github.com/dumeirei/room-rental-backend/internal/service/payment"
	roomService "github.com/dumeirei/room-rental-backend/internal/service/room"
	"github.com/dumeirei/room-rental-backend/pkg/gateway"
	"github.com/dumeirei/room-rental-backend/pkg/mail"
	"github.com/dumeirei/room-rental-backend/pkg/sms"
)

// application 装配好的服务集合
type application struct {
	checker    *availability.Checker
	bookingSvc *bookingService.BookingService
	paymentSvc *paymentService.PaymentService
	tierSvc    *roomService.PriceTierService
	verifier   *gateway.Verifier
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
}

// newApplication 创建仓储、外部客户端和业务服务
func newApplication(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
	m *metrics.Metrics,
) (*application, error) {
	bookingCfg := cfg.Business.Booking

	// 初始化仓储
	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	tierRepo := repository.NewPriceTierRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	milestoneRepo := repository.NewBookingPaymentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// 初始化外部服务客户端，未启用时使用 Mock
	var mailer mail.Sender = mail.NewMockSender()
	if cfg.Mail.Enabled {
		mailer = mail.NewSendGridSender(&mail.Config{
			APIKey:    cfg.Mail.APIKey,
			FromEmail: cfg.Mail.FromEmail,
			FromName:  cfg.Mail.FromName,
		})
	}

	var smsSender sms.Sender = sms.NewMockSender()
	if cfg.SMS.Enabled {
		aliyun, err := sms.NewAliyunSender(&sms.AliyunConfig{
			AccessKeyID:     cfg.SMS.AccessKeyID,
			AccessKeySecret: cfg.SMS.AccessKeySecret,
			SignName:        cfg.SMS.SignName,
			Endpoint:        cfg.SMS.Endpoint,
			Templates:       cfg.SMS.Templates,
		})
		if err != nil {
			return nil, err
		}
		smsSender = aliyun
	}

	dispatcher := notify.NewDispatcher(notify.NewUserResolver(userRepo), mailer, smsSender, m, notify.Config{
		Workers:    bookingCfg.NotificationWorkers,
		MaxRetries: bookingCfg.NotificationMaxRetries,
		PublicURL:  cfg.Server.PublicURL,
	}, logger)

	// 初始化服务
	checker := availability.NewChecker(bookingRepo, roomRepo, redisClient, m, availability.Config{
		CalendarMaxDays:  bookingCfg.CalendarMaxDays,
		CalendarCacheTTL: time.Duration(bookingCfg.CalendarCacheTTL) * time.Second,
	}, logger)

	bookingSvc := bookingService.NewBookingService(db, bookingRepo, milestoneRepo, paymentRepo, roomRepo, tierRepo,
		checker, redisClient, dispatcher, m, bookingService.Config{
			Currency:             bookingCfg.Currency,
			RequiresVerification: bookingCfg.RequiresVerification,
			VerificationTTL:      bookingCfg.VerificationTTL(),
			RenewalPeriodDays:    bookingCfg.RenewalPeriodDays,
			RenewalLeadDays:      bookingCfg.RenewalLeadDays,
			RoomLockTTL:          time.Duration(bookingCfg.RoomLockTTL) * time.Second,
			SweepBatchSize:       bookingCfg.SweepBatchSize,
		}, logger)

	paymentSvc := paymentService.NewPaymentService(db, bookingRepo, milestoneRepo, paymentRepo, bookingSvc,
		redisClient, dispatcher, m, logger)

	sched, err := scheduler.New(cfg.Scheduler, bookingSvc, m, logger)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	return &application{
		checker:    checker,
		bookingSvc: bookingSvc,
		paymentSvc: paymentSvc,
		tierSvc:    roomService.NewPriceTierService(roomRepo, tierRepo, logger),
		verifier:   gateway.NewVerifier(cfg.Gateway.WebhookSecret, cfg.Gateway.TimestampSkew()),
		dispatcher: dispatcher,
		scheduler:  sched,
	}, nil
}
