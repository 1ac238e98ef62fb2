// Package booking 实现预订生命周期：下单、核验、取消、拒绝、自动续租与状态推进
package booking

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/cache"
	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/common/tracing"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
	"github.com/dumeirei/room-rental-backend/internal/service/milestone"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	"github.com/dumeirei/room-rental-backend/internal/service/pricing"
)

// Config 预订业务配置
type Config struct {
	Currency             string
	RequiresVerification bool
	VerificationTTL      time.Duration
	RenewalPeriodDays    int
	RenewalLeadDays      int
	RoomLockTTL          time.Duration
	SweepBatchSize       int
}

// Actor 发起操作的用户，由接入层解析后显式传入
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// CanAccess 是否可以访问该预订
func (a Actor) CanAccess(b *models.Booking) bool {
	return a.IsAdmin || (a.UserID != 0 && a.UserID == b.UserID)
}

// BookingService 预订服务
type BookingService struct {
	db            *gorm.DB
	bookingRepo   *repository.BookingRepository
	milestoneRepo *repository.BookingPaymentRepository
	paymentRepo   *repository.PaymentRepository
	roomRepo      *repository.RoomRepository
	tierRepo      *repository.PriceTierRepository
	checker       *availability.Checker
	redis         *redis.Client
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	config        Config
	logger        *zap.Logger
	now           func() time.Time
}

// NewBookingService 创建预订服务
// rdb 为空时不加房间分布式锁，只依赖数据库行锁；notifier 为空时不发通知
func NewBookingService(
	db *gorm.DB,
	bookingRepo *repository.BookingRepository,
	milestoneRepo *repository.BookingPaymentRepository,
	paymentRepo *repository.PaymentRepository,
	roomRepo *repository.RoomRepository,
	tierRepo *repository.PriceTierRepository,
	checker *availability.Checker,
	rdb *redis.Client,
	notifier notify.Notifier,
	m *metrics.Metrics,
	cfg Config,
	log *zap.Logger,
) *BookingService {
	if cfg.Currency == "" {
		cfg.Currency = "GBP"
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.RenewalPeriodDays <= 0 {
		cfg.RenewalPeriodDays = 30
	}
	if cfg.RenewalLeadDays <= 0 {
		cfg.RenewalLeadDays = 7
	}
	if cfg.RoomLockTTL <= 0 {
		cfg.RoomLockTTL = 10 * time.Second
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("booking"))
	return &BookingService{
		db:            db,
		bookingRepo:   bookingRepo,
		milestoneRepo: milestoneRepo,
		paymentRepo:   paymentRepo,
		roomRepo:      roomRepo,
		tierRepo:      tierRepo,
		checker:       checker,
		redis:         rdb,
		notifier:      notifier,
		metrics:       m,
		config:        cfg,
		logger:        log,
		now:           time.Now,
	}
}

// CreateBookingRequest 下单参数
type CreateBookingRequest struct {
	RoomIDs       []int64
	FromDate      time.Time
	ToDate        time.Time
	PaymentOption string
	AutoRenewal   bool
}

// CreateBooking 创建预订
// 可用性复核、计价、付款计划生成与落库在同一事务内完成，任一步失败都不留下数据
func (s *BookingService) CreateBooking(ctx context.Context, actor Actor, req *CreateBookingRequest) (booking *models.Booking, err error) {
	roomIDs := utils.Unique(req.RoomIDs)
	sort.Slice(roomIDs, func(i, j int) bool { return roomIDs[i] < roomIDs[j] })

	ctx, span := tracing.Start(ctx, "booking.create", tracing.WithUserID(actor.UserID), tracing.WithRoomIDs(roomIDs))
	defer func() { tracing.End(span, err) }()

	if len(roomIDs) == 0 {
		return nil, errors.ErrRoomsRequired
	}
	from := utils.NormalizeDate(req.FromDate)
	to := utils.NormalizeDate(req.ToDate)
	if !to.After(from) {
		return nil, errors.ErrInvalidRange
	}
	now := s.now()
	// 租金节点到期日不得早于预订费节点
	if from.Before(utils.NormalizeDate(now)) {
		return nil, errors.ErrInvalidRange.WithMessage("入住日期不能早于今天")
	}
	option := req.PaymentOption
	if option == "" {
		option = models.PaymentOptionBookingOnly
	}
	if option != models.PaymentOptionBookingOnly && option != models.PaymentOptionFull {
		return nil, errors.ErrPaymentOptionInvalid
	}

	release, err := s.lockRooms(ctx, roomIDs)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rooms, err := s.roomRepo.WithTx(tx).LockByIDs(ctx, roomIDs)
		if err != nil {
			return err
		}
		if len(rooms) != len(roomIDs) {
			return errors.ErrRoomNotFound
		}
		for _, room := range rooms {
			if room.Status != models.RoomStatusActive {
				return errors.ErrRoomDisabled
			}
		}

		// 行锁之后复核可用性
		result, err := s.checker.WithTx(tx).Check(ctx, roomIDs, from, to, nil)
		if err != nil {
			return err
		}
		if !result.Available {
			return errors.ErrBookingConflict.WithData(result)
		}

		tiers, err := s.tierRepo.WithTx(tx).ListByRooms(ctx, roomIDs)
		if err != nil {
			return err
		}
		quote, err := pricing.ComputeQuote(tiers, roomIDs, from, to)
		if err != nil {
			return err
		}
		if req.AutoRenewal && quote.PriceType != models.PriceUnitMonth {
			return errors.ErrAutoRenewalNotAllowed
		}

		schedule, err := milestone.BuildSchedule(milestone.ScheduleInput{
			TotalAmount:    quote.TotalAmount,
			BookingPrice:   quote.BookingPrice,
			PaymentOption:  option,
			PriceType:      quote.PriceType,
			FromDate:       from,
			ToDate:         to,
			NumberOfMonths: quote.NumberOfMonths,
			Now:            now,
		})
		if err != nil {
			if errors.Is(err, errors.ErrScheduleImbalance) {
				s.logger.Error("付款计划金额不平衡", logger.UserID(actor.UserID), zap.Error(err))
			}
			return err
		}

		booking = &models.Booking{
			BookingNo:            utils.GenerateOrderNo("BK"),
			UserID:               actor.UserID,
			FromDate:             &from,
			ToDate:               &to,
			NumberOfDays:         quote.NumberOfDays,
			Status:               models.BookingStatusPendingPayment,
			PaymentStatus:        models.BookingPaymentUnpaid,
			PaymentOption:        option,
			PriceType:            quote.PriceType,
			Price:                quote.Price,
			BookingPrice:         quote.BookingPrice,
			TotalAmount:          quote.TotalAmount,
			Currency:             s.config.Currency,
			RequiresVerification: s.config.RequiresVerification,
			Milestones:           schedule,
		}
		for _, id := range roomIDs {
			booking.Rooms = append(booking.Rooms, models.BookingRoom{RoomID: id})
		}
		if s.config.RequiresVerification {
			token := newVerificationToken()
			expires := now.Add(s.config.VerificationTTL)
			booking.Status = models.BookingStatusPendingVerification
			booking.VerificationToken = &token
			booking.VerificationExpiresAt = &expires
		}
		if req.AutoRenewal {
			s.applyRenewalSchedule(booking, to)
		}

		return s.bookingRepo.WithTx(tx).Create(ctx, booking)
	})
	if err != nil {
		return nil, dbError(err)
	}

	tracing.SetAttributes(ctx, tracing.WithBookingID(booking.ID))
	s.checker.InvalidateCalendar(ctx, roomIDs...)
	s.metrics.RecordBooking(booking.Status)
	s.logger.Info("预订已创建",
		logger.BookingID(booking.ID),
		logger.BookingNo(booking.BookingNo),
		logger.UserID(actor.UserID),
		zap.String("status", booking.Status),
		zap.String("total_amount", booking.TotalAmount.StringFixed(2)),
	)

	s.notify(ctx, notify.EventBookingCreated, booking, func(e *notify.Event) {
		e.Amount = booking.TotalAmount
	})
	if booking.VerificationToken != nil {
		s.notify(ctx, notify.EventVerificationRequired, booking, func(e *notify.Event) {
			e.VerificationToken = *booking.VerificationToken
		})
	}
	return booking, nil
}

// VerifyBooking 通过核验令牌确认预订，重复核验返回当前预订
func (s *BookingService) VerifyBooking(ctx context.Context, token string) (*models.Booking, error) {
	if token == "" {
		return nil, errors.ErrVerificationTokenInvalid
	}

	booking, err := s.bookingRepo.GetByVerificationToken(ctx, token)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrVerificationTokenInvalid
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if booking.VerifiedAt != nil {
		return booking, nil
	}
	if booking.Status != models.BookingStatusPendingVerification {
		return nil, errors.ErrStateTransition.WithMessage("预订当前状态无法核验")
	}

	now := s.now()
	if booking.VerificationExpiresAt != nil && now.After(*booking.VerificationExpiresAt) {
		return nil, errors.ErrVerificationExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.bookingRepo.WithTx(tx).TransitionStatus(ctx, booking.ID,
			[]string{models.BookingStatusPendingVerification},
			map[string]interface{}{
				"status":      models.BookingStatusPendingPayment,
				"verified_at": now,
			})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.ErrStateTransition
		}
		// 核验前已付定金的预订直接进入已确认
		_, err = s.EvaluateStatusTx(ctx, tx, booking.ID)
		return err
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.metrics.RecordBooking(models.BookingStatusPendingPayment)
	s.logger.Info("预订已核验", logger.BookingID(booking.ID), logger.BookingNo(booking.BookingNo))

	return s.bookingRepo.GetByID(ctx, booking.ID)
}

// lockRooms 按房间 ID 升序获取分布式锁，返回释放函数
// Redis 不可用时降级为只依赖数据库行锁
func (s *BookingService) lockRooms(ctx context.Context, roomIDs []int64) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}

	locks := make([]*cache.Lock, 0, len(roomIDs))
	releaseAll := func() {
		for _, l := range locks {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("释放房间锁失败", zap.String("key", l.Key()), zap.Error(err))
			}
		}
	}

	for _, id := range roomIDs {
		lock, err := cache.AcquireLock(ctx, s.redis, cache.RoomLockKey(id), s.config.RoomLockTTL)
		if err != nil {
			releaseAll()
			if stderrors.Is(err, cache.ErrLockNotAcquired) {
				return nil, errors.ErrBookingConflict.WithMessage("房间正在被预订，请稍后重试")
			}
			s.logger.Warn("获取房间锁失败，降级为数据库锁", logger.RoomID(id), zap.Error(err))
			return func() {}, nil
		}
		locks = append(locks, lock)
	}
	return releaseAll, nil
}

// applyRenewalSchedule 开启自动续租并按退房日安排下次续租
func (s *BookingService) applyRenewalSchedule(b *models.Booking, to time.Time) {
	period := s.config.RenewalPeriodDays
	next := utils.AddDays(to, -s.config.RenewalLeadDays)
	status := models.RenewalStatusScheduled
	b.AutoRenewal = true
	b.RenewalPeriodDays = &period
	b.NextRenewalDate = &next
	b.RenewalStatus = &status
}

// notify 提交后发出通知
func (s *BookingService) notify(ctx context.Context, typ notify.EventType, b *models.Booking, fill func(e *notify.Event)) {
	event := notify.Event{
		Type:       typ,
		UserID:     b.UserID,
		BookingID:  b.ID,
		BookingNo:  b.BookingNo,
		FromDate:   b.FromDate,
		ToDate:     b.ToDate,
		Currency:   b.Currency,
		OccurredAt: s.now(),
	}
	if fill != nil {
		fill(&event)
	}
	s.notifier.Notify(ctx, event)
}

func newVerificationToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// dbError 业务错误原样返回，其余视为数据库错误
func dbError(err error) error {
	if err == nil || errors.IsAppError(err) {
		return err
	}
	return errors.ErrDatabaseError.WithError(err)
}
