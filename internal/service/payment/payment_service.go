// Package payment 将外部支付结果应用到付款节点与预订
package payment

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
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
	"github.com/dumeirei/room-rental-backend/internal/service/milestone"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	"github.com/dumeirei/room-rental-backend/pkg/gateway"
)

// 同一流水号的处理锁
const paymentLockTTL = 30 * time.Second

// StatusEvaluator 在事务内推进预订状态
type StatusEvaluator interface {
	EvaluateStatusTx(ctx context.Context, tx *gorm.DB, bookingID int64) (string, error)
}

// PaymentService 支付对账服务
type PaymentService struct {
	db            *gorm.DB
	bookingRepo   *repository.BookingRepository
	milestoneRepo *repository.BookingPaymentRepository
	paymentRepo   *repository.PaymentRepository
	evaluator     StatusEvaluator
	redis         *redis.Client
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewPaymentService 创建支付对账服务
func NewPaymentService(
	db *gorm.DB,
	bookingRepo *repository.BookingRepository,
	milestoneRepo *repository.BookingPaymentRepository,
	paymentRepo *repository.PaymentRepository,
	evaluator StatusEvaluator,
	rdb *redis.Client,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log *zap.Logger,
) *PaymentService {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("payment"))
	return &PaymentService{
		db:            db,
		bookingRepo:   bookingRepo,
		milestoneRepo: milestoneRepo,
		paymentRepo:   paymentRepo,
		evaluator:     evaluator,
		redis:         rdb,
		notifier:      notifier,
		metrics:       m,
		logger:        log,
		now:           time.Now,
	}
}

// PaymentEvent 外部支付事件
type PaymentEvent struct {
	BookingID      int64
	MilestoneID    int64
	Method         string
	TransactionRef string
	Outcome        string
	Amount         *decimal.Decimal // 为空时不校验金额
	Raw            models.JSON
}

// ReconciliationResult 对账结果
type ReconciliationResult struct {
	BookingID       int64  `json:"booking_id"`
	MilestoneID     int64  `json:"milestone_id"`
	Outcome         string `json:"outcome"`
	AlreadySettled  bool   `json:"already_settled"`
	Duplicate       bool   `json:"duplicate"`
	PaymentID       int64  `json:"payment_id,omitempty"`
	MilestoneStatus string `json:"milestone_status"`
	BookingStatus   string `json:"booking_status"`
	PaymentStatus   string `json:"payment_status"`
}

// ApplyPaymentEvent 将一次支付结果应用到付款节点
// 成功：记录支付尝试、标记节点已付、重算预订付款状态并推进预订状态
// 失败：只记录失败的支付尝试
// 已结清节点再次成功、同一流水号重复投递均不修改任何数据
func (s *PaymentService) ApplyPaymentEvent(ctx context.Context, event *PaymentEvent) (result *ReconciliationResult, err error) {
	ctx, span := tracing.Start(ctx, "payment.reconcile",
		tracing.WithBookingID(event.BookingID),
		tracing.WithMilestoneID(event.MilestoneID),
		tracing.WithTransactionRef(event.TransactionRef),
	)
	defer func() { tracing.End(span, err) }()

	if err := validateEvent(event); err != nil {
		return nil, err
	}

	release, err := s.lockTransaction(ctx, event.TransactionRef)
	if err != nil {
		return nil, err
	}
	defer release()

	if existing, err := s.findAttempt(ctx, event.TransactionRef); err != nil {
		return nil, err
	} else if existing != nil {
		return s.duplicateResult(ctx, event, existing)
	}

	var (
		booking *models.Booking
		ms      *models.BookingPayment
		attempt *models.Payment
	)
	result = &ReconciliationResult{
		BookingID:   event.BookingID,
		MilestoneID: event.MilestoneID,
		Outcome:     event.Outcome,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		milestoneRepo := s.milestoneRepo.WithTx(tx)
		bookingRepo := s.bookingRepo.WithTx(tx)

		ms, err = milestoneRepo.GetByIDForUpdate(ctx, event.MilestoneID)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrMilestoneNotFound
			}
			return err
		}
		if event.BookingID == 0 {
			event.BookingID = ms.BookingID
			result.BookingID = ms.BookingID
		}
		if ms.BookingID != event.BookingID {
			return errors.ErrMilestoneMismatch
		}

		booking, err = bookingRepo.GetByIDForUpdate(ctx, ms.BookingID)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrBookingNotFound
			}
			return err
		}
		if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusRejected {
			return errors.ErrStateTransition.WithMessage("预订已终止，无法入账")
		}

		if event.Outcome == models.PaymentStatusCompleted && ms.IsPaid() {
			result.AlreadySettled = true
			return nil
		}
		if event.Amount != nil && !utils.RoundMoney(*event.Amount).Equal(ms.Amount) {
			return errors.ErrPaymentAmountInvalid.WithData(map[string]string{
				"expected": ms.Amount.StringFixed(2),
				"received": event.Amount.StringFixed(2),
			})
		}

		paymentRepo := s.paymentRepo.WithTx(tx)
		if event.Outcome == models.PaymentStatusCompleted {
			// 每个付款节点至多一笔成功的支付
			completed, err := paymentRepo.CountCompleted(ctx, ms.ID)
			if err != nil {
				return err
			}
			if completed > 0 {
				result.AlreadySettled = true
				return nil
			}
		}

		attempt = newAttempt(event, ms)
		if err := paymentRepo.Create(ctx, attempt); err != nil {
			return err
		}
		result.PaymentID = attempt.ID

		if event.Outcome == models.PaymentStatusFailed {
			return nil
		}

		rows, err := milestoneRepo.MarkPaid(ctx, ms.ID, event.Method, s.now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return errAlreadySettled
		}

		all, err := milestoneRepo.ListByBooking(ctx, booking.ID)
		if err != nil {
			return err
		}
		if err := bookingRepo.UpdateFields(ctx, booking.ID, map[string]interface{}{
			"payment_status": milestone.StoredStatus(all),
		}); err != nil {
			return err
		}

		if s.evaluator != nil {
			if _, err := s.evaluator.EvaluateStatusTx(ctx, tx, booking.ID); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
	case stderrors.Is(err, errAlreadySettled):
		// 加锁读取之后仍被并发请求抢先结清，本次写入已回滚
		result.AlreadySettled = true
		result.PaymentID = 0
	default:
		if !errors.IsAppError(err) {
			// 流水号唯一约束冲突说明并发投递已写入
			if existing, findErr := s.findAttempt(ctx, event.TransactionRef); findErr == nil && existing != nil {
				return s.duplicateResult(ctx, event, existing)
			}
		}
		return nil, dbError(err)
	}

	if err := s.fillStatus(ctx, result); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentEvent(event.Method, metricOutcome(event.Outcome, result.AlreadySettled))

	if result.AlreadySettled {
		tracing.AddEvent(ctx, "milestone.already_settled", tracing.WithMilestoneID(event.MilestoneID))
		s.logger.Info("付款节点已结清，忽略重复的支付成功事件",
			logger.BookingID(result.BookingID),
			logger.MilestoneID(event.MilestoneID),
			logger.TransactionRef(event.TransactionRef),
		)
		return result, nil
	}

	s.logger.Info("支付事件已入账",
		logger.BookingID(booking.ID),
		logger.MilestoneID(ms.ID),
		logger.TransactionRef(event.TransactionRef),
		zap.String("outcome", event.Outcome),
		zap.String("method", event.Method),
		zap.String("booking_status", result.BookingStatus),
		zap.String("payment_status", result.PaymentStatus),
	)

	if event.Outcome == models.PaymentStatusCompleted {
		s.notifier.Notify(ctx, notify.Event{
			Type:            notify.EventMilestonePaid,
			UserID:          booking.UserID,
			BookingID:       booking.ID,
			BookingNo:       booking.BookingNo,
			FromDate:        booking.FromDate,
			ToDate:          booking.ToDate,
			MilestoneID:     ms.ID,
			MilestoneNumber: ms.MilestoneNumber,
			Amount:          ms.Amount,
			Currency:        booking.Currency,
			OccurredAt:      s.now(),
		})
	}
	return result, nil
}

// HandleGatewayCallback 处理已验签的网关回调，金额必须与付款节点一致
func (s *PaymentService) HandleGatewayCallback(ctx context.Context, event *gateway.Event) (*ReconciliationResult, error) {
	if event == nil || event.TransactionRef == "" || event.MilestoneID == 0 {
		return nil, errors.ErrPaymentCallbackError.WithMessage("回调缺少流水号或付款节点")
	}
	if !event.Amount.IsPositive() {
		return nil, errors.ErrPaymentAmountInvalid
	}

	amount := event.Amount
	return s.ApplyPaymentEvent(ctx, &PaymentEvent{
		BookingID:      event.BookingID,
		MilestoneID:    event.MilestoneID,
		Method:         event.Method,
		TransactionRef: event.TransactionRef,
		Outcome:        event.Outcome,
		Amount:         &amount,
		Raw: models.JSON{
			"transaction_ref": event.TransactionRef,
			"booking_id":      event.BookingID,
			"milestone_id":    event.MilestoneID,
			"method":          event.Method,
			"outcome":         event.Outcome,
			"amount":          event.Amount.StringFixed(2),
			"currency":        event.Currency,
		},
	})
}

// ListAttempts 付款节点的全部支付尝试
func (s *PaymentService) ListAttempts(ctx context.Context, milestoneID int64) ([]models.Payment, error) {
	if _, err := s.milestoneRepo.GetByID(ctx, milestoneID); err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrMilestoneNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	payments, err := s.paymentRepo.ListByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return payments, nil
}

var errAlreadySettled = stderrors.New("milestone already settled")

func validateEvent(event *PaymentEvent) error {
	if event.MilestoneID == 0 {
		return errors.ErrMilestoneNotFound
	}
	if event.TransactionRef == "" {
		return errors.ErrPaymentCallbackError.WithMessage("缺少支付流水号")
	}
	if !models.ValidPaymentMethod(event.Method) {
		return errors.ErrPaymentMethodError
	}
	if event.Outcome != models.PaymentStatusCompleted && event.Outcome != models.PaymentStatusFailed {
		return errors.ErrPaymentOutcomeError
	}
	return nil
}

func newAttempt(event *PaymentEvent, ms *models.BookingPayment) *models.Payment {
	paymentType := models.PaymentTypeRent
	if ms.IsBookingFee {
		paymentType = models.PaymentTypeBooking
	}
	amount := ms.Amount
	if event.Amount != nil {
		amount = utils.RoundMoney(*event.Amount)
	}
	ref := event.TransactionRef
	attempt := &models.Payment{
		PaymentNo:        utils.GenerateOrderNo("PM"),
		BookingID:        ms.BookingID,
		BookingPaymentID: ms.ID,
		PaymentMethod:    event.Method,
		PaymentType:      paymentType,
		Amount:           amount,
		TransactionID:    &ref,
		Status:           event.Outcome,
		CallbackData:     event.Raw,
	}
	if event.Outcome == models.PaymentStatusFailed {
		msg := "payment failed at gateway"
		attempt.ErrorMessage = &msg
	}
	return attempt
}

// lockTransaction 按流水号加锁，串行化同一事件的并发投递
// 获取锁失败说明另一投递正在处理，Redis 故障时降级为唯一约束兜底
func (s *PaymentService) lockTransaction(ctx context.Context, ref string) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	lock, err := cache.AcquireLock(ctx, s.redis, cache.PaymentLockKey(ref), paymentLockTTL)
	if err != nil {
		if stderrors.Is(err, cache.ErrLockNotAcquired) {
			return nil, errors.ErrOperationFailed.WithMessage("该支付事件正在处理，请稍后重试")
		}
		s.logger.Warn("获取支付锁失败，降级为数据库约束", logger.TransactionRef(ref), zap.Error(err))
		return func() {}, nil
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("释放支付锁失败", logger.TransactionRef(ref), zap.Error(err))
		}
	}, nil
}

func (s *PaymentService) findAttempt(ctx context.Context, ref string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByTransactionID(ctx, ref)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return payment, nil
}

// duplicateResult 同一流水号重复投递，返回首次处理后的状态
func (s *PaymentService) duplicateResult(ctx context.Context, event *PaymentEvent, existing *models.Payment) (*ReconciliationResult, error) {
	if existing.BookingPaymentID != event.MilestoneID {
		return nil, errors.ErrPaymentCallbackError.WithMessage("流水号已用于其他付款节点")
	}
	result := &ReconciliationResult{
		BookingID:      existing.BookingID,
		MilestoneID:    existing.BookingPaymentID,
		Outcome:        existing.Status,
		Duplicate:      true,
		AlreadySettled: existing.Status == models.PaymentStatusCompleted,
		PaymentID:      existing.ID,
	}
	if err := s.fillStatus(ctx, result); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentEvent(event.Method, "duplicate")
	s.logger.Info("重复的支付事件", logger.TransactionRef(event.TransactionRef), logger.MilestoneID(existing.BookingPaymentID))
	return result, nil
}

// fillStatus 读取节点与预订的最新状态，付款状态含逾期推导
func (s *PaymentService) fillStatus(ctx context.Context, result *ReconciliationResult) error {
	ms, err := s.milestoneRepo.GetByID(ctx, result.MilestoneID)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	booking, err := s.bookingRepo.GetByID(ctx, ms.BookingID)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	all, err := s.milestoneRepo.ListByBooking(ctx, ms.BookingID)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	today := utils.NormalizeDate(s.now())
	result.BookingID = booking.ID
	result.MilestoneStatus = ms.EffectiveStatus(today)
	result.BookingStatus = booking.Status
	result.PaymentStatus = milestone.Summarize(all, today).PaymentStatus
	return nil
}

func metricOutcome(outcome string, settled bool) string {
	if settled {
		return "already_settled"
	}
	return outcome
}

func dbError(err error) error {
	if err == nil || errors.IsAppError(err) {
		return err
	}
	return errors.ErrDatabaseError.WithError(err)
}
