package booking

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/tracing"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/service/milestone"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	"github.com/dumeirei/room-rental-backend/internal/service/pricing"
)

// 核验过期的取消原因
const reasonVerificationExpired = "verification expired"

// 续租结果
const (
	renewalRenewed = "renewed"
	renewalSkipped = "skipped"
	renewalFailed  = "failed"
)

// ExpireUnverifiedBookings 取消核验已过期的待验证预订，返回取消数量
// 只对仍处于待验证状态的预订生效，可重复执行
func (s *BookingService) ExpireUnverifiedBookings(ctx context.Context) (int, error) {
	now := s.now()
	bookings, err := s.bookingRepo.ListExpiredUnverified(ctx, now, s.config.SweepBatchSize)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	expired := 0
	for _, b := range bookings {
		ok, err := s.expireOne(ctx, b, now)
		if err != nil {
			s.logger.Error("取消过期预订失败", logger.BookingID(b.ID), zap.Error(err))
			tracing.SetError(ctx, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *BookingService) expireOne(ctx context.Context, b *models.Booking, now time.Time) (bool, error) {
	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = s.bookingRepo.WithTx(tx).TransitionStatus(ctx, b.ID,
			[]string{models.BookingStatusPendingVerification},
			map[string]interface{}{
				"status":              models.BookingStatusCancelled,
				"from_date":           nil,
				"to_date":             nil,
				"cancelled_at":        now,
				"cancel_reason":       reasonVerificationExpired,
				"auto_renewal":        false,
				"renewal_period_days": nil,
				"next_renewal_date":   nil,
				"renewal_status":      nil,
			})
		if err != nil || rows == 0 {
			return err
		}

		ids, err := s.milestoneRepo.WithTx(tx).IDsByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		_, err = s.paymentRepo.WithTx(tx).DeletePendingByMilestones(ctx, ids)
		return err
	})
	if err != nil || rows == 0 {
		return false, err
	}

	roomIDs, err := s.roomIDsOf(ctx, b.ID)
	if err == nil {
		s.checker.InvalidateCalendar(ctx, roomIDs...)
	}
	s.metrics.RecordBooking(models.BookingStatusCancelled)
	s.logger.Info("核验过期，预订已取消", logger.BookingID(b.ID), logger.BookingNo(b.BookingNo))
	s.notify(ctx, notify.EventBookingCancelled, b, func(e *notify.Event) {
		e.Reason = reasonVerificationExpired
	})
	return true, nil
}

func (s *BookingService) roomIDsOf(ctx context.Context, bookingID int64) ([]int64, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return b.RoomIDs(), nil
}

// RenewalReport 一次续租扫描的结果
type RenewalReport struct {
	Processed int `json:"processed"`
	Renewed   int `json:"renewed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ProcessRenewals 执行到期的自动续租
// 每笔续租在独立事务内延长退房日并追加租金节点，以 next_renewal_date 作条件更新，重复扫描不会重复续租
func (s *BookingService) ProcessRenewals(ctx context.Context) (*RenewalReport, error) {
	today := utils.NormalizeDate(s.now())
	bookings, err := s.bookingRepo.ListDueRenewals(ctx, today, s.config.SweepBatchSize)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	report := &RenewalReport{}
	for _, b := range bookings {
		report.Processed++
		result, err := s.renewOne(ctx, b)
		s.metrics.RecordRenewal(result)
		switch result {
		case renewalRenewed:
			report.Renewed++
		case renewalSkipped:
			report.Skipped++
		default:
			report.Failed++
			s.logger.Warn("自动续租失败", logger.BookingID(b.ID), logger.BookingNo(b.BookingNo), zap.Error(err))
		}
	}
	return report, nil
}

// renewOne 续租单笔预订
func (s *BookingService) renewOne(ctx context.Context, b *models.Booking) (result string, err error) {
	ctx, span := tracing.Start(ctx, "booking.renew", tracing.WithBookingID(b.ID))
	defer func() { tracing.End(span, err) }()

	if b.NextRenewalDate == nil || b.ToDate == nil {
		return renewalSkipped, nil
	}
	expected := *b.NextRenewalDate
	oldTo := utils.NormalizeDate(*b.ToDate)
	period := s.config.RenewalPeriodDays
	if b.RenewalPeriodDays != nil && *b.RenewalPeriodDays > 0 {
		period = *b.RenewalPeriodDays
	}
	newTo := utils.AddDays(oldTo, period)
	nextRenewal := utils.AddDays(newTo, -s.config.RenewalLeadDays)
	roomIDs := b.RoomIDs()

	var amount decimal.Decimal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.roomRepo.WithTx(tx).LockByIDs(ctx, roomIDs); err != nil {
			return err
		}

		conflicts, err := s.checker.WithTx(tx).Check(ctx, roomIDs, oldTo, newTo, &b.ID)
		if err != nil {
			return err
		}
		if !conflicts.Available {
			return errors.ErrBookingConflict.WithData(conflicts)
		}

		tiers, err := s.tierRepo.WithTx(tx).ListByRooms(ctx, roomIDs)
		if err != nil {
			return err
		}
		quote, err := pricing.ComputeQuote(tiers, roomIDs, oldTo, newTo)
		if err != nil {
			return err
		}
		amount = quote.Price

		paymentStatus := b.PaymentStatus
		if paymentStatus == models.BookingPaymentPaid && amount.IsPositive() {
			paymentStatus = models.BookingPaymentPartial
		}

		// 先推进 next_renewal_date，并发或重复扫描在此处落空
		rows, err := s.bookingRepo.WithTx(tx).AdvanceRenewal(ctx, b.ID, expected, map[string]interface{}{
			"to_date":           newTo,
			"next_renewal_date": nextRenewal,
			"renewal_status":    models.RenewalStatusRenewed,
			"number_of_days":    b.NumberOfDays + period,
			"price":             b.Price.Add(amount),
			"total_amount":      b.TotalAmount.Add(amount),
			"payment_status":    paymentStatus,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errSkipRenewal
		}

		milestoneRepo := s.milestoneRepo.WithTx(tx)
		number, err := milestoneRepo.MaxMilestoneNumber(ctx, b.ID)
		if err != nil {
			return err
		}
		rent := milestone.RentMilestone(number+1, amount, oldTo, newTo)
		rent.BookingID = b.ID
		if err := milestoneRepo.Create(ctx, &rent); err != nil {
			return err
		}

		all, err := milestoneRepo.ListByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := milestone.CheckBalance(all, b.TotalAmount.Add(amount)); err != nil {
			s.logger.Error("续租后付款计划金额不平衡", logger.BookingID(b.ID), zap.Error(err))
			return err
		}
		return nil
	})

	switch {
	case err == nil:
	case stderrors.Is(err, errSkipRenewal):
		return renewalSkipped, nil
	default:
		s.markRenewalFailed(ctx, b.ID, expected)
		return renewalFailed, err
	}

	s.checker.InvalidateCalendar(ctx, roomIDs...)
	s.logger.Info("自动续租完成",
		logger.BookingID(b.ID),
		zap.String("to_date", utils.FormatDate(newTo)),
		zap.String("next_renewal_date", utils.FormatDate(nextRenewal)),
		zap.String("amount", amount.StringFixed(2)),
	)

	b.ToDate = &newTo
	s.notify(ctx, notify.EventBookingRenewed, b, func(e *notify.Event) {
		e.Amount = amount
	})
	return renewalRenewed, nil
}

// errSkipRenewal 续租已被其他扫描处理
var errSkipRenewal = stderrors.New("renewal already processed")

// markRenewalFailed 续租失败后关闭自动续租，避免每次扫描重复失败
func (s *BookingService) markRenewalFailed(ctx context.Context, bookingID int64, expected time.Time) {
	_, err := s.bookingRepo.AdvanceRenewal(ctx, bookingID, expected, map[string]interface{}{
		"auto_renewal":      false,
		"next_renewal_date": nil,
		"renewal_status":    models.RenewalStatusFailed,
	})
	if err != nil {
		s.logger.Error("记录续租失败状态出错", logger.BookingID(bookingID), zap.Error(err))
	}
}

// AdvanceStatuses 按日期推进已确认和入住中的预订，返回发生迁移的数量
func (s *BookingService) AdvanceStatuses(ctx context.Context) (int, error) {
	today := utils.NormalizeDate(s.now())
	bookings, err := s.bookingRepo.ListForAdvance(ctx, today, s.config.SweepBatchSize)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	changed := 0
	for _, b := range bookings {
		before := b.Status
		status, err := s.EvaluateStatus(ctx, b.ID)
		if err != nil {
			s.logger.Error("推进预订状态失败", logger.BookingID(b.ID), zap.Error(err))
			tracing.SetError(ctx, err)
			continue
		}
		if status != before {
			changed++
		}
	}
	return changed, nil
}
